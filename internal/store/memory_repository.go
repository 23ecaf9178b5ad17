package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/finik/vpn-subscription-service/internal/domain"
)

type edgeKey struct {
	referrer int64
	invited  int64
}

// MemoryRepository is an in-process Repository guarded by a single mutex. Each
// method holds the lock for its whole body, which gives it the same atomicity as
// the PostgreSQL statements.
type MemoryRepository struct {
	mu       sync.Mutex
	users    map[int64]*domain.User
	edges    map[edgeKey]*domain.ReferralEdge
	payments map[string]domain.AppliedPayment
	clock    func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[int64]*domain.User),
		edges:    make(map[edgeKey]*domain.ReferralEdge),
		payments: make(map[string]domain.AppliedPayment),
		clock:    time.Now,
	}
}

// PutUser stores a copy of user, replacing any existing row. Intended for seeding.
func (r *MemoryRepository) PutUser(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = r.clock()
	}
	u := cloneUser(user)
	r.users[user.ID] = &u
}

// Edge returns the referral edge between the two users, if any.
func (r *MemoryRepository) Edge(referrerID, invitedID int64) (domain.ReferralEdge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	edge, ok := r.edges[edgeKey{referrerID, invitedID}]
	if !ok {
		return domain.ReferralEdge{}, false
	}
	return *edge, true
}

// ProcessedPayments returns the number of payments applied so far.
func (r *MemoryRepository) ProcessedPayments() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

func (r *MemoryRepository) GetUser(_ context.Context, userID int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, domain.ErrNotFound)
	}
	u := cloneUser(*user)
	return &u, nil
}

func (r *MemoryRepository) RegisterIfAbsent(_ context.Context, userID int64, referralLink string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(userID, referralLink), nil
}

func (r *MemoryRepository) registerLocked(userID int64, referralLink string) bool {
	if _, ok := r.users[userID]; ok {
		return false
	}
	r.users[userID] = &domain.User{ID: userID, ReferralLink: referralLink, CreatedAt: r.clock()}
	return true
}

func (r *MemoryRepository) Extend(_ context.Context, userID int64, days int, now time.Time) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.extendLocked(userID, days, now)
}

func (r *MemoryRepository) extendLocked(userID int64, days int, now time.Time) (time.Time, error) {
	if !domain.ValidExtensionDays(days) {
		return time.Time{}, fmt.Errorf("%w: days must be in 1..%d, got %d", domain.ErrInvalidArgument, domain.MaxExtensionDays, days)
	}
	user, ok := r.users[userID]
	if !ok {
		return time.Time{}, fmt.Errorf("extend user %d: %w", userID, domain.ErrInvariantViolation)
	}
	end := domain.ExtendedEnd(user.SubscriptionEnd, now, days)
	user.SubscriptionEnd = &end
	return end, nil
}

func (r *MemoryRepository) SaveVPNKey(_ context.Context, userID int64, key *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return fmt.Errorf("user %d: %w", userID, domain.ErrNotFound)
	}
	if key == nil {
		user.VPNKey = nil
		return nil
	}
	k := *key
	user.VPNKey = &k
	return nil
}

func (r *MemoryRepository) RegisterReferral(_ context.Context, referrerID *int64, invitedID int64, referralLink string) (domain.ReferralResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := domain.ReferralResult{CreatedUser: r.registerLocked(invitedID, referralLink)}
	if referrerID == nil || *referrerID == invitedID {
		return result, nil
	}
	referrer, ok := r.users[*referrerID]
	if !ok {
		return result, nil
	}
	key := edgeKey{*referrerID, invitedID}
	if _, exists := r.edges[key]; exists {
		return result, nil
	}
	r.edges[key] = &domain.ReferralEdge{ReferrerID: *referrerID, InvitedUserID: invitedID, CreatedAt: r.clock()}
	referrer.InvitedCount++
	result.EdgeCreated = true
	return result, nil
}

func (r *MemoryRepository) ActivateBonus(_ context.Context, referrerID, invitedID int64, bonusDays int, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	edge, ok := r.edges[edgeKey{referrerID, invitedID}]
	if !ok || edge.BonusActivated {
		return false, nil
	}
	if _, err := r.extendLocked(referrerID, bonusDays, now); err != nil {
		return false, fmt.Errorf("extend referrer %d: %w", referrerID, err)
	}
	edge.BonusActivated = true
	return true, nil
}

func (r *MemoryRepository) PendingReferrers(_ context.Context, invitedID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	referrers := make([]int64, 0)
	for key, edge := range r.edges {
		if key.invited == invitedID && !edge.BonusActivated {
			referrers = append(referrers, key.referrer)
		}
	}
	sort.Slice(referrers, func(i, j int) bool { return referrers[i] < referrers[j] })
	return referrers, nil
}

func (r *MemoryRepository) ApplyPayment(_ context.Context, event domain.PaymentEvent, now time.Time) (*domain.AppliedPayment, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.payments[event.PaymentID]; seen {
		return nil, fmt.Errorf("payment %s: %w", event.PaymentID, domain.ErrDuplicateEvent)
	}
	end, err := r.extendLocked(event.UserID, event.Days, now)
	if err != nil {
		return nil, err
	}
	applied := domain.AppliedPayment{PaymentEvent: event, NewSubscriptionEnd: end, ProcessedAt: now}
	r.payments[event.PaymentID] = applied
	return &applied, nil
}

func (r *MemoryRepository) ListSweepCandidates(_ context.Context, window SweepWindow) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0)
	for id, user := range r.users {
		if user.SubscriptionEnd == nil {
			continue
		}
		end := *user.SubscriptionEnd
		inWindow := !end.Before(window.From) && !end.After(window.To)
		if inWindow || end.Before(window.ExpiredBefore) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *MemoryRepository) ClaimExpiryWarning(_ context.Context, userID int64, subscriptionEnd time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return false, nil
	}
	if user.ExpiryWarnedFor != nil && user.ExpiryWarnedFor.Equal(subscriptionEnd) {
		return false, nil
	}
	warned := subscriptionEnd
	user.ExpiryWarnedFor = &warned
	return true, nil
}

func cloneUser(u domain.User) domain.User {
	if u.SubscriptionEnd != nil {
		end := *u.SubscriptionEnd
		u.SubscriptionEnd = &end
	}
	if u.VPNKey != nil {
		key := *u.VPNKey
		u.VPNKey = &key
	}
	if u.ExpiryWarnedFor != nil {
		warned := *u.ExpiryWarnedFor
		u.ExpiryWarnedFor = &warned
	}
	return u
}

var _ Repository = (*MemoryRepository)(nil)
var _ Repository = (*PostgresRepository)(nil)
