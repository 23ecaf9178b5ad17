/**
 * @description
 * The subscription ledger: authoritative per-user subscription window, referral
 * counter and stored VPN credential. Status is derived on read from the stored
 * end date and the ledger clock.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finik/vpn-subscription-service/internal/domain"
	"github.com/finik/vpn-subscription-service/internal/store"
)

// Ledger wraps the repository with status computation and the shared clock.
type Ledger struct {
	repo        store.Repository
	botUsername string
	logger      *slog.Logger
	now         func() time.Time
}

// NewLedger creates a ledger. botUsername is used to build referral links.
func NewLedger(repo store.Repository, botUsername string, logger *slog.Logger) *Ledger {
	return &Ledger{
		repo:        repo,
		botUsername: botUsername,
		logger:      logger,
		now:         time.Now,
	}
}

// Now returns the ledger clock reading. Every component sharing a ledger uses it.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// ReferralLink returns the deep link that registers new users under userID.
func (l *Ledger) ReferralLink(userID int64) string {
	return domain.ReferralLink(l.botUsername, userID)
}

// GetStatus loads the user and derives the current subscription status.
func (l *Ledger) GetStatus(ctx context.Context, userID int64) (domain.Status, error) {
	user, err := l.repo.GetUser(ctx, userID)
	if err != nil {
		return domain.Status{}, fmt.Errorf("get status for user %d: %w", userID, err)
	}
	return user.StatusAt(l.now()), nil
}

// Extend moves the subscription end to max(end, now) + days.
func (l *Ledger) Extend(ctx context.Context, userID int64, days int) (time.Time, error) {
	if !domain.ValidExtensionDays(days) {
		return time.Time{}, fmt.Errorf("extend user %d by %d days: %w", userID, days, domain.ErrInvalidArgument)
	}
	end, err := l.repo.Extend(ctx, userID, days, l.now())
	if err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) {
			l.logger.Error("extend called for unregistered user", "user_id", userID, "days", days, "error", err)
		}
		return time.Time{}, err
	}
	return end, nil
}

// RegisterIfAbsent creates the user with an empty subscription. It reports whether
// the user was created by this call.
func (l *Ledger) RegisterIfAbsent(ctx context.Context, userID int64) (bool, error) {
	created, err := l.repo.RegisterIfAbsent(ctx, userID, l.ReferralLink(userID))
	if err != nil {
		return false, fmt.Errorf("register user %d: %w", userID, err)
	}
	return created, nil
}

// SaveVPNKey stores or clears the user's VPN credential.
func (l *Ledger) SaveVPNKey(ctx context.Context, userID int64, key *string) error {
	return l.repo.SaveVPNKey(ctx, userID, key)
}
