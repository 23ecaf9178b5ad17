package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finik/vpn-subscription-service/internal/domain"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ptrInt64(v int64) *int64 { return &v }

func TestMemoryRepository_ExtendFromNowWhenExpired(t *testing.T) {
	repo := NewMemoryRepository()
	past := baseTime.Add(-48 * time.Hour)
	repo.PutUser(domain.User{ID: 1, SubscriptionEnd: &past})

	end, err := repo.Extend(context.Background(), 1, 30, baseTime)
	if err != nil {
		t.Fatalf("Extend returned error: %v", err)
	}
	want := baseTime.Add(30 * 24 * time.Hour)
	if !end.Equal(want) {
		t.Fatalf("expected %s, got %s", want, end)
	}
}

func TestMemoryRepository_ExtendStacksOnFutureEnd(t *testing.T) {
	repo := NewMemoryRepository()
	future := baseTime.Add(10 * 24 * time.Hour)
	repo.PutUser(domain.User{ID: 1, SubscriptionEnd: &future})

	end, err := repo.Extend(context.Background(), 1, 3, baseTime)
	if err != nil {
		t.Fatalf("Extend returned error: %v", err)
	}
	want := future.Add(3 * 24 * time.Hour)
	if !end.Equal(want) {
		t.Fatalf("expected %s, got %s", want, end)
	}
}

func TestMemoryRepository_ExtendErrors(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutUser(domain.User{ID: 1})

	if _, err := repo.Extend(context.Background(), 1, 0, baseTime); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := repo.Extend(context.Background(), 2, 5, baseTime); !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestMemoryRepository_ConcurrentExtendsAreNotLost(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutUser(domain.User{ID: 1})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Extend(context.Background(), 1, 1, baseTime); err != nil {
				t.Errorf("Extend returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	user, err := repo.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	want := baseTime.Add(20 * 24 * time.Hour)
	if !user.SubscriptionEnd.Equal(want) {
		t.Fatalf("expected %s, got %s", want, user.SubscriptionEnd)
	}
}

func TestMemoryRepository_RegisterReferral(t *testing.T) {
	tests := []struct {
		name        string
		referrer    *int64
		invited     int64
		wantCreated bool
		wantEdge    bool
	}{
		{name: "no referrer", referrer: nil, invited: 10, wantCreated: true, wantEdge: false},
		{name: "self referral", referrer: ptrInt64(10), invited: 10, wantCreated: true, wantEdge: false},
		{name: "unknown referrer", referrer: ptrInt64(999), invited: 10, wantCreated: true, wantEdge: false},
		{name: "valid referral", referrer: ptrInt64(1), invited: 10, wantCreated: true, wantEdge: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMemoryRepository()
			repo.PutUser(domain.User{ID: 1})

			result, err := repo.RegisterReferral(context.Background(), tt.referrer, tt.invited, "link")
			if err != nil {
				t.Fatalf("RegisterReferral returned error: %v", err)
			}
			if result.CreatedUser != tt.wantCreated || result.EdgeCreated != tt.wantEdge {
				t.Fatalf("expected created=%t edge=%t, got %+v", tt.wantCreated, tt.wantEdge, result)
			}
			if _, err := repo.GetUser(context.Background(), tt.invited); err != nil {
				t.Fatalf("expected invited user to exist, got %v", err)
			}
		})
	}
}

func TestMemoryRepository_RegisterReferralIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutUser(domain.User{ID: 1})
	ctx := context.Background()

	if _, err := repo.RegisterReferral(ctx, ptrInt64(1), 2, "link"); err != nil {
		t.Fatalf("first RegisterReferral returned error: %v", err)
	}
	result, err := repo.RegisterReferral(ctx, ptrInt64(1), 2, "link")
	if err != nil {
		t.Fatalf("second RegisterReferral returned error: %v", err)
	}
	if result.CreatedUser || result.EdgeCreated {
		t.Fatalf("expected no changes on replay, got %+v", result)
	}
	referrer, _ := repo.GetUser(ctx, 1)
	if referrer.InvitedCount != 1 {
		t.Fatalf("expected invited count 1, got %d", referrer.InvitedCount)
	}
}

func TestMemoryRepository_ActivateBonusOnce(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutUser(domain.User{ID: 1})
	ctx := context.Background()
	if _, err := repo.RegisterReferral(ctx, ptrInt64(1), 2, "link"); err != nil {
		t.Fatalf("RegisterReferral returned error: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ActivateBonus(ctx, 1, 2, 3, baseTime)
			if err != nil {
				t.Errorf("ActivateBonus returned error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one activation, got %d", wins)
	}
	referrer, _ := repo.GetUser(ctx, 1)
	want := baseTime.Add(3 * 24 * time.Hour)
	if referrer.SubscriptionEnd == nil || !referrer.SubscriptionEnd.Equal(want) {
		t.Fatalf("expected referrer end %s, got %v", want, referrer.SubscriptionEnd)
	}
	pending, _ := repo.PendingReferrers(ctx, 2)
	if len(pending) != 0 {
		t.Fatalf("expected no pending referrers, got %v", pending)
	}
}

func TestMemoryRepository_ApplyPaymentDuplicate(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutUser(domain.User{ID: 1})
	ctx := context.Background()
	event := domain.PaymentEvent{PaymentID: "p-1", UserID: 1, Days: 30, OrderID: "o-1"}

	if _, err := repo.ApplyPayment(ctx, event, baseTime); err != nil {
		t.Fatalf("ApplyPayment returned error: %v", err)
	}
	if _, err := repo.ApplyPayment(ctx, event, baseTime); !errors.Is(err, domain.ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}
	user, _ := repo.GetUser(ctx, 1)
	want := baseTime.Add(30 * 24 * time.Hour)
	if !user.SubscriptionEnd.Equal(want) {
		t.Fatalf("expected single extension to %s, got %s", want, user.SubscriptionEnd)
	}
}

func TestMemoryRepository_ApplyPaymentUnknownUserIsNotMarked(t *testing.T) {
	repo := NewMemoryRepository()
	event := domain.PaymentEvent{PaymentID: "p-1", UserID: 7, Days: 30}

	if _, err := repo.ApplyPayment(context.Background(), event, baseTime); !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	if repo.ProcessedPayments() != 0 {
		t.Fatalf("expected payment not to be marked processed")
	}
}

func TestMemoryRepository_ListSweepCandidates(t *testing.T) {
	repo := NewMemoryRepository()
	at := func(d time.Duration) *time.Time { v := baseTime.Add(d); return &v }
	repo.PutUser(domain.User{ID: 1})                                           // never paid
	repo.PutUser(domain.User{ID: 2, SubscriptionEnd: at(3 * 24 * time.Hour)})  // ending soon
	repo.PutUser(domain.User{ID: 3, SubscriptionEnd: at(30 * 24 * time.Hour)}) // far future
	repo.PutUser(domain.User{ID: 4, SubscriptionEnd: at(-12 * time.Hour)})     // in grace window
	repo.PutUser(domain.User{ID: 5, SubscriptionEnd: at(-72 * time.Hour)})     // long expired

	window := SweepWindow{
		From:          baseTime,
		To:            baseTime.Add(7 * 24 * time.Hour),
		ExpiredBefore: baseTime.Add(-24 * time.Hour),
	}
	ids, err := repo.ListSweepCandidates(context.Background(), window)
	if err != nil {
		t.Fatalf("ListSweepCandidates returned error: %v", err)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 5 {
		t.Fatalf("expected [2 5], got %v", ids)
	}
}

func TestMemoryRepository_ClaimExpiryWarning(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutUser(domain.User{ID: 1})
	ctx := context.Background()
	end := baseTime.Add(3 * 24 * time.Hour)

	first, _ := repo.ClaimExpiryWarning(ctx, 1, end)
	second, _ := repo.ClaimExpiryWarning(ctx, 1, end)
	renewed, _ := repo.ClaimExpiryWarning(ctx, 1, end.Add(30*24*time.Hour))
	if !first || second || !renewed {
		t.Fatalf("expected claims true,false,true; got %t,%t,%t", first, second, renewed)
	}
}

func TestMemoryMessageStore_DrainForgets(t *testing.T) {
	s := NewMemoryMessageStore(time.Hour)
	ctx := context.Background()
	_ = s.Remember(ctx, 1, 20, "checkout")
	_ = s.Remember(ctx, 1, 10, "plans")
	_ = s.Remember(ctx, 2, 30, "plans")

	ids, err := s.Drain(ctx, 1)
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if len(ids) != 2 || ids[0] != 10 || ids[1] != 20 {
		t.Fatalf("expected [10 20], got %v", ids)
	}
	again, _ := s.Drain(ctx, 1)
	if len(again) != 0 {
		t.Fatalf("expected drained store to be empty, got %v", again)
	}
}

func TestMemoryMessageStore_SkipsExpired(t *testing.T) {
	s := NewMemoryMessageStore(time.Minute)
	current := baseTime
	s.now = func() time.Time { return current }
	_ = s.Remember(context.Background(), 1, 10, "plans")

	current = current.Add(2 * time.Minute)
	ids, _ := s.Drain(context.Background(), 1)
	if len(ids) != 0 {
		t.Fatalf("expected expired message to be skipped, got %v", ids)
	}
}

func TestMemoryMessageStore_RememberPrunesAbandonedChats(t *testing.T) {
	s := NewMemoryMessageStore(time.Minute)
	current := baseTime
	s.now = func() time.Time { return current }
	ctx := context.Background()
	_ = s.Remember(ctx, 1, 10, "plans")
	_ = s.Remember(ctx, 1, 11, "checkout")

	current = current.Add(2 * time.Minute)
	_ = s.Remember(ctx, 2, 20, "plans")

	if _, ok := s.messages[1]; ok {
		t.Fatal("expected expired chat to be pruned")
	}
	if len(s.messages) != 1 || len(s.messages[2]) != 1 {
		t.Fatalf("expected only the fresh entry to remain, got %v", s.messages)
	}
}

func TestParseDrained(t *testing.T) {
	ids, err := parseDrained(nil, fmt.Errorf("script: %w", redis.Nil))
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected wrapped redis.Nil to be an empty result, got %v %v", ids, err)
	}

	boom := errors.New("connection refused")
	if _, err := parseDrained(nil, boom); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}

	ids, err = parseDrained([]string{"30", "bad", "10"}, nil)
	if err != nil || len(ids) != 2 || ids[0] != 10 || ids[1] != 30 {
		t.Fatalf("expected [10 30], got %v %v", ids, err)
	}
}
