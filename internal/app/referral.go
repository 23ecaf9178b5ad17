/**
 * @description
 * Referral graph: who invited whom, and the one-time bonus granted to the referrer
 * when the invited user first pays.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/finik/vpn-subscription-service/internal/domain"
	"github.com/finik/vpn-subscription-service/internal/store"
)

// ReferralGraph records referral edges and activates bonuses.
type ReferralGraph struct {
	repo      store.Repository
	ledger    *Ledger
	bonusDays int
	logger    *slog.Logger
}

// NewReferralGraph creates a referral graph. A non-positive bonusDays falls back to
// domain.ReferralBonusDays.
func NewReferralGraph(repo store.Repository, ledger *Ledger, bonusDays int, logger *slog.Logger) *ReferralGraph {
	if bonusDays <= 0 {
		bonusDays = domain.ReferralBonusDays
	}
	return &ReferralGraph{repo: repo, ledger: ledger, bonusDays: bonusDays, logger: logger}
}

// BonusDays is the number of days credited to a referrer per activated edge.
func (g *ReferralGraph) BonusDays() int {
	return g.bonusDays
}

// RegisterReferral ensures invitedID exists and records the edge from referrerID
// when it is a distinct, known user. Self-referrals never create an edge.
func (g *ReferralGraph) RegisterReferral(ctx context.Context, referrerID *int64, invitedID int64) (domain.ReferralResult, error) {
	result, err := g.repo.RegisterReferral(ctx, referrerID, invitedID, g.ledger.ReferralLink(invitedID))
	if err != nil {
		return domain.ReferralResult{}, fmt.Errorf("register referral for user %d: %w", invitedID, err)
	}
	if result.EdgeCreated {
		g.logger.Info("referral edge created", "referrer_id", *referrerID, "user_id", invitedID)
	}
	return result, nil
}

// ActivateBonus flips the edge to activated and credits the referrer. Only the first
// call for an edge returns true.
func (g *ReferralGraph) ActivateBonus(ctx context.Context, referrerID, invitedID int64) (bool, error) {
	activated, err := g.repo.ActivateBonus(ctx, referrerID, invitedID, g.bonusDays, g.ledger.Now())
	if err != nil {
		return false, fmt.Errorf("activate bonus %d->%d: %w", referrerID, invitedID, err)
	}
	return activated, nil
}

// PendingReferrers lists referrers of invitedID whose bonus is not yet activated.
func (g *ReferralGraph) PendingReferrers(ctx context.Context, invitedID int64) ([]int64, error) {
	return g.repo.PendingReferrers(ctx, invitedID)
}
