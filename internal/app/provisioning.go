package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/finik/vpn-subscription-service/internal/domain"
	"github.com/finik/vpn-subscription-service/internal/metrics"
)

// accounts applies VPN account changes for a user and records each panel call.
type accounts struct {
	vpn    Provisioner
	ledger *Ledger
	logger *slog.Logger
}

func (a *accounts) fetch(ctx context.Context, username string) (*domain.VPNAccount, error) {
	account, err := a.vpn.FetchAccount(ctx, username)
	if err != nil && !isNotFound(err) {
		metrics.ObserveProvisioning("fetch", err)
		return nil, err
	}
	metrics.ObserveProvisioning("fetch", nil)
	return account, err
}

func (a *accounts) capacity(ctx context.Context) (domain.Capacity, error) {
	capacity, err := a.vpn.ListCapacity(ctx)
	metrics.ObserveProvisioning("list_capacity", err)
	return capacity, err
}

// create opens a new account on the given capacity and stores its key.
func (a *accounts) create(ctx context.Context, userID int64, capacity domain.Capacity) (string, error) {
	username := domain.VPNUsername(userID)
	account, err := a.vpn.CreateAccount(ctx, username, capacity)
	metrics.ObserveProvisioning("create", err)
	if err != nil {
		return "", fmt.Errorf("create vpn account %s: %w", username, err)
	}
	key := account.SubscriptionURL
	if err := a.ledger.SaveVPNKey(ctx, userID, &key); err != nil {
		return "", fmt.Errorf("save vpn key for user %d: %w", userID, err)
	}
	a.logger.Info("vpn account created", "user_id", userID, "username", username)
	return key, nil
}

// recreate removes any stale account for the user and creates a fresh one.
func (a *accounts) recreate(ctx context.Context, userID int64) (string, error) {
	username := domain.VPNUsername(userID)
	err := a.vpn.DeleteAccount(ctx, username)
	metrics.ObserveProvisioning("delete", err)
	if err != nil {
		return "", fmt.Errorf("delete stale vpn account %s: %w", username, err)
	}
	capacity, err := a.capacity(ctx)
	if err != nil {
		return "", fmt.Errorf("list capacity: %w", err)
	}
	return a.create(ctx, userID, capacity)
}

func (a *accounts) remove(ctx context.Context, userID int64) error {
	username := domain.VPNUsername(userID)
	err := a.vpn.DeleteAccount(ctx, username)
	metrics.ObserveProvisioning("delete", err)
	if err != nil {
		return fmt.Errorf("delete vpn account %s: %w", username, err)
	}
	if err := a.ledger.SaveVPNKey(ctx, userID, nil); err != nil {
		return fmt.Errorf("clear vpn key for user %d: %w", userID, err)
	}
	return nil
}

func (a *accounts) setEnabled(ctx context.Context, userID int64, enabled bool) error {
	username := domain.VPNUsername(userID)
	err := a.vpn.SetEnabled(ctx, username, enabled)
	metrics.ObserveProvisioning("set_enabled", err)
	if err != nil {
		return fmt.Errorf("set %s enabled=%t: %w", username, enabled, err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
