/**
 * @description
 * Reconciliation sweeper. Periodically re-derives the desired VPN account state for
 * users whose subscription is about to end or has recently ended and applies the
 * delta on the panel. Also sends the one-time expiry warning.
 *
 * @notes
 * - A user's failure is logged and counted; the user is retried on the next sweep.
 * - Batches run one after another; users inside a batch run concurrently.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finik/vpn-subscription-service/internal/config"
	"github.com/finik/vpn-subscription-service/internal/domain"
	"github.com/finik/vpn-subscription-service/internal/metrics"
	"github.com/finik/vpn-subscription-service/internal/store"
)

const (
	defaultSweepBatchSize    = 50
	defaultSweepLookahead    = 7 * 24 * time.Hour
	defaultSweepExpiredGrace = 24 * time.Hour
	defaultSweepUserTimeout  = 30 * time.Second
	defaultReclaimAfter      = 15 * 24 * time.Hour
	defaultWarningDays       = 3
)

// SweepResult summarises one sweep.
type SweepResult struct {
	Candidates int
	OK         int
	Failed     int
	Duration   time.Duration
}

// Sweeper reconciles ledger state with the VPN panel.
type Sweeper struct {
	repo     store.Repository
	ledger   *Ledger
	accounts *accounts
	notifier Notifier
	events   EventPublisher
	logger   *slog.Logger

	batchSize    int
	lookahead    time.Duration
	expiredGrace time.Duration
	userTimeout  time.Duration
	reclaimAfter time.Duration
	warningDays  int
}

// NewSweeper creates a sweeper. Zero config values fall back to the defaults.
func NewSweeper(repo store.Repository, ledger *Ledger, vpn Provisioner, notifier Notifier, events EventPublisher, logger *slog.Logger, cfg config.Config) *Sweeper {
	s := &Sweeper{
		repo:         repo,
		ledger:       ledger,
		accounts:     &accounts{vpn: vpn, ledger: ledger, logger: logger},
		notifier:     notifier,
		events:       events,
		logger:       logger,
		batchSize:    cfg.SweepBatchSize,
		lookahead:    time.Duration(cfg.SweepLookaheadDays) * 24 * time.Hour,
		expiredGrace: time.Duration(cfg.SweepExpiredGraceHours) * time.Hour,
		userTimeout:  cfg.SweepUserTimeout(),
		reclaimAfter: time.Duration(cfg.InactivityReclaimDays) * 24 * time.Hour,
		warningDays:  cfg.ExpiryWarningDays,
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultSweepBatchSize
	}
	if s.lookahead <= 0 {
		s.lookahead = defaultSweepLookahead
	}
	if s.expiredGrace <= 0 {
		s.expiredGrace = defaultSweepExpiredGrace
	}
	if s.userTimeout <= 0 {
		s.userTimeout = defaultSweepUserTimeout
	}
	if s.reclaimAfter <= 0 {
		s.reclaimAfter = defaultReclaimAfter
	}
	if s.warningDays <= 0 {
		s.warningDays = defaultWarningDays
	}
	return s
}

// RunSweep is the scheduled entry point.
func (s *Sweeper) RunSweep() {
	s.logger.Info("starting subscription sweep job")
	result := s.Sweep(context.Background())
	s.logger.Info("subscription sweep job finished",
		"candidates", result.Candidates,
		"ok", result.OK,
		"failed", result.Failed,
		"duration", result.Duration.String(),
	)
}

// Sweep reconciles every candidate user once.
func (s *Sweeper) Sweep(ctx context.Context) (result SweepResult) {
	started := time.Now()
	defer func() {
		result.Duration = time.Since(started)
		metrics.SweepDuration.Observe(result.Duration.Seconds())
	}()

	now := s.ledger.Now()
	window := store.SweepWindow{
		From:          now,
		To:            now.Add(s.lookahead),
		ExpiredBefore: now.Add(-s.expiredGrace),
	}
	userIDs, err := s.repo.ListSweepCandidates(ctx, window)
	if err != nil {
		s.logger.Error("failed to list sweep candidates", "error", err)
		return result
	}
	result.Candidates = len(userIDs)
	if len(userIDs) == 0 {
		s.logger.Info("no users to reconcile")
		return result
	}
	s.logger.Info("found users to reconcile", "count", len(userIDs))

	var ok, failed atomic.Int64
	for start := 0; start < len(userIDs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(userIDs) {
			end = len(userIDs)
		}

		var g errgroup.Group
		for _, userID := range userIDs[start:end] {
			userID := userID
			g.Go(func() error {
				if err := s.reconcileWithTimeout(ctx, userID); err != nil {
					failed.Add(1)
					metrics.SweepUsersTotal.WithLabelValues("failed").Inc()
					s.logger.Error("failed to reconcile user", "user_id", userID, "error", err)
					return nil
				}
				ok.Add(1)
				metrics.SweepUsersTotal.WithLabelValues("ok").Inc()
				return nil
			})
		}
		_ = g.Wait()
	}

	result.OK = int(ok.Load())
	result.Failed = int(failed.Load())
	return result
}

func (s *Sweeper) reconcileWithTimeout(parent context.Context, userID int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while reconciling: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(parent, s.userTimeout)
	defer cancel()
	return s.reconcile(ctx, userID)
}

// reconcile applies the desired account state for one user.
func (s *Sweeper) reconcile(ctx context.Context, userID int64) error {
	status, err := s.ledger.GetStatus(ctx, userID)
	if err != nil {
		return err
	}
	username := domain.VPNUsername(userID)

	account, err := s.accounts.fetch(ctx, username)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("fetch vpn account: %w", err)
	}
	capacity, err := s.accounts.capacity(ctx)
	if err != nil {
		return fmt.Errorf("list capacity: %w", err)
	}

	if !status.Active {
		// A payment may have landed while the panel was read; it provisions the
		// account itself, so leave this user to it.
		current, err := s.ledger.GetStatus(ctx, userID)
		if err != nil {
			return err
		}
		if current.Active {
			s.logger.Info("subscription activated during sweep; skipping user", "user_id", userID)
			return nil
		}
		status = current
	}

	if account != nil && !status.Active {
		if lastActive, known := account.LastActive(); known && s.ledger.Now().Sub(lastActive) >= s.reclaimAfter {
			if err := s.accounts.remove(ctx, userID); err != nil {
				return err
			}
			s.logger.Info("reclaimed inactive vpn account", "user_id", userID, "username", username, "last_active", lastActive)
			s.publish(ctx, domain.RoutingVPNAccountReclaimed, domain.VPNAccountReclaimedEvent{
				UserID:     userID,
				Username:   username,
				LastActive: lastActive,
			})
			return nil
		}
	}

	switch {
	case account == nil && status.Active:
		if _, err := s.accounts.create(ctx, userID, capacity); err != nil {
			return err
		}
	case account == nil:
		// Inactive users get an account lazily on their next payment or install.
		if status.HasVPNKey() {
			if err := s.ledger.SaveVPNKey(ctx, userID, nil); err != nil {
				return fmt.Errorf("clear stale vpn key: %w", err)
			}
		}
		return nil
	case !status.HasVPNKey() && account.SubscriptionURL != "":
		key := account.SubscriptionURL
		if err := s.ledger.SaveVPNKey(ctx, userID, &key); err != nil {
			return fmt.Errorf("adopt vpn key: %w", err)
		}
	}

	if err := s.accounts.setEnabled(ctx, userID, status.Active); err != nil {
		return err
	}

	if status.Active && status.DaysLeft == s.warningDays && status.SubscriptionEnd != nil {
		s.warnExpiry(ctx, userID, *status.SubscriptionEnd)
	}
	return nil
}

func (s *Sweeper) warnExpiry(ctx context.Context, userID int64, subscriptionEnd time.Time) {
	claimed, err := s.repo.ClaimExpiryWarning(ctx, userID, subscriptionEnd)
	if err != nil {
		s.logger.Error("failed to claim expiry warning", "user_id", userID, "error", err)
		return
	}
	if !claimed {
		return
	}
	if err := s.notifier.Notify(ctx, userID, expiryWarningText(s.warningDays)); err != nil {
		s.logger.Warn("failed to send expiry warning", "user_id", userID, "error", err)
	}
}

func (s *Sweeper) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, domain.EventsExchange, routingKey, body); err != nil {
		s.logger.Warn("failed to publish event", "routing_key", routingKey, "error", err)
	}
}
