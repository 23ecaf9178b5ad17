//go:build integration

package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finik/vpn-subscription-service/internal/domain"
)

// newPostgresRepository connects to TEST_DATABASE_URL, applies the migrations and
// empties every table. The database must be a scratch one.
func newPostgresRepository(t *testing.T) *PostgresRepository {
	t.Helper()
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		t.Fatalf("failed to parse TEST_DATABASE_URL: %v", err)
	}
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := RunMigrations(pool, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("RunMigrations returned error: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE processed_payments, invited_users, users`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
	return NewPostgresRepository(pool)
}

func mustRegister(t *testing.T, repo *PostgresRepository, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		if _, err := repo.RegisterIfAbsent(context.Background(), id, "https://t.me/bot?start=ref_x"); err != nil {
			t.Fatalf("RegisterIfAbsent(%d) returned error: %v", id, err)
		}
	}
}

func TestPostgresRepository_Extend(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()
	mustRegister(t, repo, 1)

	end, err := repo.Extend(ctx, 1, 30, baseTime)
	if err != nil {
		t.Fatalf("Extend returned error: %v", err)
	}
	if !end.Equal(baseTime.Add(30 * 24 * time.Hour)) {
		t.Fatalf("expected end from now, got %v", end)
	}

	end, err = repo.Extend(ctx, 1, 3, baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("Extend returned error: %v", err)
	}
	if !end.Equal(baseTime.Add(33 * 24 * time.Hour)) {
		t.Fatalf("expected end stacked on future end, got %v", end)
	}

	if _, err := repo.Extend(ctx, 404, 30, baseTime); !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	if _, err := repo.Extend(ctx, 1, domain.MaxExtensionDays+1, baseTime); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestPostgresRepository_ConcurrentExtendsAreNotLost(t *testing.T) {
	repo := newPostgresRepository(t)
	mustRegister(t, repo, 1)

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
	if !user.SubscriptionEnd.Equal(baseTime.Add(20 * 24 * time.Hour)) {
		t.Fatalf("expected 20 days, got %v", user.SubscriptionEnd)
	}
}

func TestPostgresRepository_RegisterReferral(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()
	mustRegister(t, repo, 1000)
	referrer := int64(1000)

	result, err := repo.RegisterReferral(ctx, &referrer, 1001, "link")
	if err != nil {
		t.Fatalf("RegisterReferral returned error: %v", err)
	}
	if !result.CreatedUser || !result.EdgeCreated {
		t.Fatalf("expected user and edge to be created, got %+v", result)
	}

	result, err = repo.RegisterReferral(ctx, &referrer, 1001, "link")
	if err != nil {
		t.Fatalf("RegisterReferral returned error: %v", err)
	}
	if result.CreatedUser || result.EdgeCreated {
		t.Fatalf("expected repeat registration to change nothing, got %+v", result)
	}

	unknown := int64(5555)
	result, err = repo.RegisterReferral(ctx, &unknown, 1002, "link")
	if err != nil {
		t.Fatalf("RegisterReferral returned error: %v", err)
	}
	if !result.CreatedUser || result.EdgeCreated {
		t.Fatalf("expected no edge for unknown referrer, got %+v", result)
	}

	user, _ := repo.GetUser(ctx, 1000)
	if user.InvitedCount != 1 {
		t.Fatalf("expected invited=1, got %d", user.InvitedCount)
	}
}

func TestPostgresRepository_ActivateBonusOnce(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()
	mustRegister(t, repo, 1000)
	referrer := int64(1000)
	if _, err := repo.RegisterReferral(ctx, &referrer, 1001, "link"); err != nil {
		t.Fatalf("RegisterReferral returned error: %v", err)
	}

	activated, err := repo.ActivateBonus(ctx, 1000, 1001, 3, baseTime)
	if err != nil || !activated {
		t.Fatalf("expected first activation, got %t %v", activated, err)
	}
	activated, err = repo.ActivateBonus(ctx, 1000, 1001, 3, baseTime)
	if err != nil || activated {
		t.Fatalf("expected second activation to be a no-op, got %t %v", activated, err)
	}

	user, _ := repo.GetUser(ctx, 1000)
	if !user.SubscriptionEnd.Equal(baseTime.Add(3 * 24 * time.Hour)) {
		t.Fatalf("expected 3 bonus days, got %v", user.SubscriptionEnd)
	}
	pending, err := repo.PendingReferrers(ctx, 1001)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending referrers, got %v %v", pending, err)
	}
}

func TestPostgresRepository_ApplyPayment(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()
	mustRegister(t, repo, 7)
	event := domain.PaymentEvent{PaymentID: "p1", UserID: 7, Days: 30, OrderID: "o1"}

	applied, err := repo.ApplyPayment(ctx, event, baseTime)
	if err != nil {
		t.Fatalf("ApplyPayment returned error: %v", err)
	}
	if !applied.NewSubscriptionEnd.Equal(baseTime.Add(30 * 24 * time.Hour)) {
		t.Fatalf("unexpected end %v", applied.NewSubscriptionEnd)
	}
	if _, err := repo.ApplyPayment(ctx, event, baseTime); !errors.Is(err, domain.ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}

	unknown := domain.PaymentEvent{PaymentID: "p2", UserID: 404, Days: 30}
	if _, err := repo.ApplyPayment(ctx, unknown, baseTime); !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	mustRegister(t, repo, 404)
	if _, err := repo.ApplyPayment(ctx, unknown, baseTime); err != nil {
		t.Fatalf("expected payment for a now registered user to apply, got %v", err)
	}
}

func TestPostgresRepository_ClaimExpiryWarning(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()
	mustRegister(t, repo, 3)
	end := baseTime.Add(3 * 24 * time.Hour)

	if claimed, err := repo.ClaimExpiryWarning(ctx, 3, end); err != nil || !claimed {
		t.Fatalf("expected first claim, got %t %v", claimed, err)
	}
	if claimed, err := repo.ClaimExpiryWarning(ctx, 3, end); err != nil || claimed {
		t.Fatalf("expected repeat claim to fail, got %t %v", claimed, err)
	}
	if claimed, err := repo.ClaimExpiryWarning(ctx, 3, end.Add(30*24*time.Hour)); err != nil || !claimed {
		t.Fatalf("expected claim for a new end date, got %t %v", claimed, err)
	}
}

func TestPostgresRepository_ListSweepCandidates(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()
	mustRegister(t, repo, 1, 2, 3, 4)
	for id, days := range map[int64]int{2: 3, 3: 30} {
		if _, err := repo.Extend(ctx, id, days, baseTime); err != nil {
			t.Fatalf("Extend returned error: %v", err)
		}
	}
	// User 4 expired three days before the sweep.
	if _, err := repo.Extend(ctx, 4, 1, baseTime.Add(-4*24*time.Hour)); err != nil {
		t.Fatalf("Extend returned error: %v", err)
	}

	ids, err := repo.ListSweepCandidates(ctx, SweepWindow{
		From:          baseTime,
		To:            baseTime.Add(7 * 24 * time.Hour),
		ExpiredBefore: baseTime.Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("ListSweepCandidates returned error: %v", err)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 4 {
		t.Fatalf("expected [2 4], got %v", ids)
	}
}
