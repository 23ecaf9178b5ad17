package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/finik/vpn-subscription-service/internal/domain"
)

// Installer hands out the VPN subscription link to paying users.
type Installer struct {
	ledger   *Ledger
	accounts *accounts
	logger   *slog.Logger
}

// NewInstaller creates an installer.
func NewInstaller(ledger *Ledger, vpn Provisioner, logger *slog.Logger) *Installer {
	return &Installer{
		ledger:   ledger,
		accounts: &accounts{vpn: vpn, ledger: ledger, logger: logger},
		logger:   logger,
	}
}

// EnsureAccess returns the user's VPN key, creating the account if none is stored.
// Inactive users get domain.ErrSubscriptionInactive; panel failures are reported as
// domain.ErrProvisioningUnavailable.
func (i *Installer) EnsureAccess(ctx context.Context, userID int64) (string, error) {
	status, err := i.ledger.GetStatus(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrSubscriptionInactive
		}
		return "", err
	}
	if !status.Active {
		return "", domain.ErrSubscriptionInactive
	}
	if status.HasVPNKey() {
		return *status.VPNKey, nil
	}

	key, err := i.accounts.recreate(ctx, userID)
	if err != nil {
		i.logger.Error("failed to provision vpn account on install", "user_id", userID, "error", err)
		return "", fmt.Errorf("%w: %w", domain.ErrProvisioningUnavailable, err)
	}
	if err := i.accounts.setEnabled(ctx, userID, true); err != nil {
		i.logger.Warn("failed to enable new vpn account", "user_id", userID, "error", err)
	}
	return key, nil
}
