package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/finik/vpn-subscription-service/internal/domain"
	"github.com/finik/vpn-subscription-service/internal/store"
)

func TestLedger_GetStatusUnknownUser(t *testing.T) {
	ledger := newTestLedger(store.NewMemoryRepository())
	if _, err := ledger.GetStatus(context.Background(), 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLedger_RegisterIfAbsentIsIdempotent(t *testing.T) {
	ledger := newTestLedger(store.NewMemoryRepository())
	ctx := context.Background()

	created, err := ledger.RegisterIfAbsent(ctx, 5)
	if err != nil || !created {
		t.Fatalf("expected first registration to create, got %t %v", created, err)
	}
	created, err = ledger.RegisterIfAbsent(ctx, 5)
	if err != nil || created {
		t.Fatalf("expected second registration to be a no-op, got %t %v", created, err)
	}
	status, _ := ledger.GetStatus(ctx, 5)
	if status.ReferralLink != "https://t.me/finik_vpn_bot?start=ref_5" || status.Active {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestLedger_ExtendIsMonotonic(t *testing.T) {
	repo := store.NewMemoryRepository()
	ledger := newTestLedger(repo)
	ctx := context.Background()
	repo.PutUser(domain.User{ID: 1})

	var last = testNow
	for _, d := range []int{30, 3, 90} {
		end, err := ledger.Extend(ctx, 1, d)
		if err != nil {
			t.Fatalf("Extend(%d) returned error: %v", d, err)
		}
		if !end.After(last) {
			t.Fatalf("expected end to move forward, %s -> %s", last, end)
		}
		last = end
	}
	if !last.Equal(testNow.Add(days(123))) {
		t.Fatalf("expected now+123d, got %s", last)
	}
}

func TestLedger_ConcurrentExtendsAccumulate(t *testing.T) {
	repo := store.NewMemoryRepository()
	ledger := newTestLedger(repo)
	repo.PutUser(domain.User{ID: 1})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ledger.Extend(context.Background(), 1, 1)
		}()
	}
	wg.Wait()

	status, _ := ledger.GetStatus(context.Background(), 1)
	if !status.SubscriptionEnd.Equal(testNow.Add(days(20))) {
		t.Fatalf("expected now+20d, got %v", status.SubscriptionEnd)
	}
}

func TestLedger_ExtendErrors(t *testing.T) {
	repo := store.NewMemoryRepository()
	ledger := newTestLedger(repo)
	end := testNow.Add(days(30))
	repo.PutUser(domain.User{ID: 1, SubscriptionEnd: &end})

	tests := []struct {
		name   string
		userID int64
		days   int
		want   error
	}{
		{name: "zero days", userID: 1, days: 0, want: domain.ErrInvalidArgument},
		{name: "negative days", userID: 1, days: -5, want: domain.ErrInvalidArgument},
		{name: "above maximum", userID: 1, days: domain.MaxExtensionDays + 1, want: domain.ErrInvalidArgument},
		{name: "duration overflow", userID: 1, days: 200000, want: domain.ErrInvalidArgument},
		{name: "unknown user", userID: 2, days: 30, want: domain.ErrInvariantViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ledger.Extend(context.Background(), tt.userID, tt.days); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	status, err := ledger.GetStatus(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if !status.SubscriptionEnd.Equal(end) {
		t.Fatalf("expected rejected extensions to leave end at %v, got %v", end, status.SubscriptionEnd)
	}

	got, err := ledger.Extend(context.Background(), 1, domain.MaxExtensionDays)
	if err != nil {
		t.Fatalf("expected maximum extension to succeed, got %v", err)
	}
	if !got.After(end) {
		t.Fatalf("expected end to move forward from %v, got %v", end, got)
	}
}

func TestReferralGraph_SelfInviteRejected(t *testing.T) {
	repo := store.NewMemoryRepository()
	graph := NewReferralGraph(repo, newTestLedger(repo), 0, discardLogger())

	result, err := graph.RegisterReferral(context.Background(), int64Ptr(77), 77)
	if err != nil {
		t.Fatalf("RegisterReferral returned error: %v", err)
	}
	if result.EdgeCreated {
		t.Fatal("expected no edge for self referral")
	}
	user, _ := repo.GetUser(context.Background(), 77)
	if user.InvitedCount != 0 {
		t.Fatalf("expected invited count 0, got %d", user.InvitedCount)
	}
}

func TestReferralGraph_UnknownReferrerStillRegistersUser(t *testing.T) {
	repo := store.NewMemoryRepository()
	graph := NewReferralGraph(repo, newTestLedger(repo), 0, discardLogger())

	result, err := graph.RegisterReferral(context.Background(), int64Ptr(999), 1)
	if err != nil || !result.CreatedUser || result.EdgeCreated {
		t.Fatalf("unexpected result %+v, %v", result, err)
	}
}

func TestReferralGraph_BonusActivatesOnce(t *testing.T) {
	repo := store.NewMemoryRepository()
	ledger := newTestLedger(repo)
	graph := NewReferralGraph(repo, ledger, 0, discardLogger())
	ctx := context.Background()
	repo.PutUser(domain.User{ID: 1000})
	if _, err := graph.RegisterReferral(ctx, int64Ptr(1000), 1001); err != nil {
		t.Fatalf("RegisterReferral returned error: %v", err)
	}

	wins := 0
	for i := 0; i < 3; i++ {
		ok, err := graph.ActivateBonus(ctx, 1000, 1001)
		if err != nil {
			t.Fatalf("ActivateBonus returned error: %v", err)
		}
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one activation, got %d", wins)
	}
	status, _ := ledger.GetStatus(ctx, 1000)
	if !status.SubscriptionEnd.Equal(testNow.Add(days(domain.ReferralBonusDays))) {
		t.Fatalf("expected single bonus extension, got %v", status.SubscriptionEnd)
	}
	if pending, _ := graph.PendingReferrers(ctx, 1001); len(pending) != 0 {
		t.Fatalf("expected no pending referrers, got %v", pending)
	}
}
