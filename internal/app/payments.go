/**
 * @description
 * Payment event processor. Applies a successful payment to the ledger exactly once,
 * then provisions the VPN account on a best-effort basis, activates pending
 * referral bonuses and notifies the payer.
 *
 * @notes
 * - Entitlement is granted even when provisioning fails; the sweeper corrects the
 *   resulting drift on its next run.
 * - Notification and event publishing failures are logged and never fail the payment.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finik/vpn-subscription-service/internal/domain"
	"github.com/finik/vpn-subscription-service/internal/metrics"
	"github.com/finik/vpn-subscription-service/internal/store"
)

// PaymentProcessor handles payment notifications.
type PaymentProcessor struct {
	repo      store.Repository
	ledger    *Ledger
	referrals *ReferralGraph
	accounts  *accounts
	notifier  Notifier
	messages  MessageStore
	events    EventPublisher
	location  *time.Location
	logger    *slog.Logger
}

// NewPaymentProcessor creates a payment processor. location controls how dates are
// shown to users.
func NewPaymentProcessor(
	repo store.Repository,
	ledger *Ledger,
	referrals *ReferralGraph,
	vpn Provisioner,
	notifier Notifier,
	messages MessageStore,
	events EventPublisher,
	location *time.Location,
	logger *slog.Logger,
) *PaymentProcessor {
	if location == nil {
		location = time.UTC
	}
	return &PaymentProcessor{
		repo:      repo,
		ledger:    ledger,
		referrals: referrals,
		accounts:  &accounts{vpn: vpn, ledger: ledger, logger: logger},
		notifier:  notifier,
		messages:  messages,
		events:    events,
		location:  location,
		logger:    logger,
	}
}

// Handle applies a succeeded payment. A payment id seen before is a no-op and
// returns nil.
func (p *PaymentProcessor) Handle(ctx context.Context, event domain.PaymentEvent) error {
	logger := p.logger.With("payment_id", event.PaymentID, "user_id", event.UserID)

	if err := event.Validate(); err != nil {
		metrics.PaymentsTotal.WithLabelValues("failed").Inc()
		return err
	}

	applied, err := p.repo.ApplyPayment(ctx, event, p.ledger.Now())
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			metrics.PaymentsTotal.WithLabelValues("duplicate").Inc()
			logger.Info("duplicate payment ignored")
			return nil
		}
		metrics.PaymentsTotal.WithLabelValues("failed").Inc()
		if errors.Is(err, domain.ErrInvariantViolation) {
			logger.Error("payment for unregistered user", "error", err)
		} else {
			logger.Error("failed to apply payment", "error", err)
		}
		return fmt.Errorf("apply payment %s: %w", event.PaymentID, err)
	}
	metrics.PaymentsTotal.WithLabelValues("applied").Inc()
	logger.Info("payment applied", "days", event.Days, "subscription_end", applied.NewSubscriptionEnd)

	provisioned := p.provision(ctx, event.UserID, logger)
	p.activateReferralBonuses(ctx, event.UserID, logger)
	p.clearPurchaseMessages(ctx, event.UserID, logger)

	if err := p.notifier.Notify(ctx, event.UserID, paymentSuccessText(applied.NewSubscriptionEnd, p.location)); err != nil {
		logger.Warn("failed to notify payer", "error", err)
	}

	p.publish(ctx, domain.RoutingSubscriptionExtended, domain.SubscriptionExtendedEvent{
		UserID:             event.UserID,
		PaymentID:          event.PaymentID,
		OrderID:            event.OrderID,
		Days:               event.Days,
		NewSubscriptionEnd: applied.NewSubscriptionEnd,
		Provisioned:        provisioned,
	})
	return nil
}

// HandleCanceled tells the payer the payment was canceled. The ledger is untouched.
func (p *PaymentProcessor) HandleCanceled(ctx context.Context, userID int64, paymentID string) error {
	metrics.PaymentsTotal.WithLabelValues("canceled").Inc()
	p.logger.Info("payment canceled", "payment_id", paymentID, "user_id", userID)
	if err := p.notifier.Notify(ctx, userID, textPaymentCanceled); err != nil {
		return fmt.Errorf("notify canceled payment %s: %w", paymentID, err)
	}
	return nil
}

// provision makes sure the payer has an enabled account. Any panel error stops this
// step only.
func (p *PaymentProcessor) provision(ctx context.Context, userID int64, logger *slog.Logger) bool {
	status, err := p.ledger.GetStatus(ctx, userID)
	if err != nil {
		logger.Error("failed to load status for provisioning", "error", err)
		return false
	}
	if !status.HasVPNKey() {
		if _, err := p.accounts.recreate(ctx, userID); err != nil {
			logger.Error("failed to provision vpn account after payment", "error", err)
			return false
		}
	}
	if err := p.accounts.setEnabled(ctx, userID, true); err != nil {
		logger.Error("failed to enable vpn account after payment", "error", err)
		return false
	}
	return true
}

func (p *PaymentProcessor) activateReferralBonuses(ctx context.Context, userID int64, logger *slog.Logger) {
	referrers, err := p.referrals.PendingReferrers(ctx, userID)
	if err != nil {
		logger.Error("failed to list pending referrers", "error", err)
		return
	}
	for _, referrerID := range referrers {
		activated, err := p.referrals.ActivateBonus(ctx, referrerID, userID)
		if err != nil {
			logger.Error("failed to activate referral bonus", "referrer_id", referrerID, "error", err)
			continue
		}
		if !activated {
			continue
		}
		logger.Info("referral bonus activated", "referrer_id", referrerID, "days", p.referrals.BonusDays())
		if err := p.notifier.Notify(ctx, referrerID, referralBonusText(p.referrals.BonusDays())); err != nil {
			logger.Warn("failed to notify referrer", "referrer_id", referrerID, "error", err)
		}
		p.publish(ctx, domain.RoutingReferralBonus, domain.ReferralBonusEvent{
			ReferrerID:    referrerID,
			InvitedUserID: userID,
			Days:          p.referrals.BonusDays(),
		})
	}
}

func (p *PaymentProcessor) clearPurchaseMessages(ctx context.Context, userID int64, logger *slog.Logger) {
	if p.messages == nil {
		return
	}
	ids, err := p.messages.Drain(ctx, userID)
	if err != nil {
		logger.Warn("failed to load stored messages", "error", err)
		return
	}
	for _, id := range ids {
		if err := p.notifier.DeleteMessage(ctx, userID, id); err != nil {
			logger.Debug("failed to delete stored message", "message_id", id, "error", err)
		}
	}
}

func (p *PaymentProcessor) publish(ctx context.Context, routingKey string, body interface{}) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ctx, domain.EventsExchange, routingKey, body); err != nil {
		p.logger.Warn("failed to publish event", "routing_key", routingKey, "error", err)
	}
}
