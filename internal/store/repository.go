/**
 * @description
 * This file defines the `Repository` interface, the contract for every data access
 * operation the subscription engine needs. The PostgreSQL implementation is used in
 * production; the in-memory implementation backs tests and single-node dry runs.
 *
 * @dependencies
 * - internal/domain: ledger models and sentinel errors.
 */
package store

import (
	"context"
	"time"

	"github.com/finik/vpn-subscription-service/internal/domain"
)

// SweepWindow bounds the users selected for reconciliation: subscriptions ending
// within [From, To] or already ended before ExpiredBefore.
type SweepWindow struct {
	From          time.Time
	To            time.Time
	ExpiredBefore time.Time
}

// Repository defines the set of methods for interacting with the ledger store.
type Repository interface {
	// Ledger
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	RegisterIfAbsent(ctx context.Context, userID int64, referralLink string) (bool, error)
	Extend(ctx context.Context, userID int64, days int, now time.Time) (time.Time, error)
	SaveVPNKey(ctx context.Context, userID int64, key *string) error

	// Referral graph
	RegisterReferral(ctx context.Context, referrerID *int64, invitedID int64, referralLink string) (domain.ReferralResult, error)
	ActivateBonus(ctx context.Context, referrerID, invitedID int64, bonusDays int, now time.Time) (bool, error)
	PendingReferrers(ctx context.Context, invitedID int64) ([]int64, error)

	// Payments
	ApplyPayment(ctx context.Context, event domain.PaymentEvent, now time.Time) (*domain.AppliedPayment, error)

	// Reconciliation
	ListSweepCandidates(ctx context.Context, window SweepWindow) ([]int64, error)
	ClaimExpiryWarning(ctx context.Context, userID int64, subscriptionEnd time.Time) (bool, error)
}
