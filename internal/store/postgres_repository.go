/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. Every mutation that the
 * engine relies on for correctness under concurrency is a single conditional
 * statement or a single transaction; there is no read-modify-write in Go.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and pool.
 * - internal/domain: ledger models and sentinel errors.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finik/vpn-subscription-service/internal/domain"
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is the PostgreSQL implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const extendQuery = `
	UPDATE users
	SET subscription_end = GREATEST(COALESCE(subscription_end, $3::timestamptz), $3::timestamptz)
	    + make_interval(days => $2::int)
	WHERE user_id = $1
	RETURNING subscription_end
`

// GetUser retrieves a user by chat id.
func (r *PostgresRepository) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	var user domain.User
	query := `
		SELECT user_id, subscription_end, invited, referral_link, vpn_key, expiry_warned_for, created_at
		FROM users
		WHERE user_id = $1
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&user.ID,
		&user.SubscriptionEnd,
		&user.InvitedCount,
		&user.ReferralLink,
		&user.VPNKey,
		&user.ExpiryWarnedFor,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", userID, domain.ErrNotFound)
		}
		return nil, err
	}
	return &user, nil
}

// RegisterIfAbsent inserts a user with no subscription. It reports whether a row was created.
func (r *PostgresRepository) RegisterIfAbsent(ctx context.Context, userID int64, referralLink string) (bool, error) {
	return registerIfAbsent(ctx, r.db, userID, referralLink)
}

func registerIfAbsent(ctx context.Context, q querier, userID int64, referralLink string) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO users (user_id, referral_link)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, referralLink)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Extend pushes subscription_end to max(subscription_end, now) + days atomically.
func (r *PostgresRepository) Extend(ctx context.Context, userID int64, days int, now time.Time) (time.Time, error) {
	return extend(ctx, r.db, userID, days, now)
}

func extend(ctx context.Context, q querier, userID int64, days int, now time.Time) (time.Time, error) {
	if !domain.ValidExtensionDays(days) {
		return time.Time{}, fmt.Errorf("%w: days must be in 1..%d, got %d", domain.ErrInvalidArgument, domain.MaxExtensionDays, days)
	}
	var end time.Time
	if err := q.QueryRow(ctx, extendQuery, userID, days, now).Scan(&end); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, fmt.Errorf("extend user %d: %w", userID, domain.ErrInvariantViolation)
		}
		return time.Time{}, err
	}
	return end, nil
}

// SaveVPNKey stores or clears the provisioned credential.
func (r *PostgresRepository) SaveVPNKey(ctx context.Context, userID int64, key *string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET vpn_key = $2 WHERE user_id = $1`, userID, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", userID, domain.ErrNotFound)
	}
	return nil
}

// RegisterReferral ensures the invited user exists and records the referral edge
// in a single transaction.
func (r *PostgresRepository) RegisterReferral(ctx context.Context, referrerID *int64, invitedID int64, referralLink string) (domain.ReferralResult, error) {
	var result domain.ReferralResult

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return result, err
	}
	defer tx.Rollback(ctx)

	result.CreatedUser, err = registerIfAbsent(ctx, tx, invitedID, referralLink)
	if err != nil {
		return result, fmt.Errorf("insert invited user: %w", err)
	}

	if referrerID == nil || *referrerID == invitedID {
		return result, tx.Commit(ctx)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE user_id = $1)`, *referrerID).Scan(&exists); err != nil {
		return result, fmt.Errorf("check referrer: %w", err)
	}
	if !exists {
		return result, tx.Commit(ctx)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO invited_users (referrer_id, invited_user_id)
		VALUES ($1, $2)
		ON CONFLICT (referrer_id, invited_user_id) DO NOTHING
	`, *referrerID, invitedID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// foreign_key_violation: the referrer was removed concurrently.
			return domain.ReferralResult{}, fmt.Errorf("insert referral edge: %w", domain.ErrTransient)
		}
		return result, fmt.Errorf("insert referral edge: %w", err)
	}

	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `UPDATE users SET invited = invited + 1 WHERE user_id = $1`, *referrerID); err != nil {
			return result, fmt.Errorf("increment invited count: %w", err)
		}
		result.EdgeCreated = true
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ReferralResult{}, err
	}
	return result, nil
}

// ActivateBonus flips the edge's bonus flag and extends the referrer in one
// transaction. Only the caller that flips the flag gets true.
func (r *PostgresRepository) ActivateBonus(ctx context.Context, referrerID, invitedID int64, bonusDays int, now time.Time) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE invited_users
		SET bonus_activated = TRUE
		WHERE referrer_id = $1 AND invited_user_id = $2 AND bonus_activated = FALSE
	`, referrerID, invitedID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := extend(ctx, tx, referrerID, bonusDays, now); err != nil {
		return false, fmt.Errorf("extend referrer %d: %w", referrerID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// PendingReferrers lists referrers of invitedID whose bonus is not yet activated.
func (r *PostgresRepository) PendingReferrers(ctx context.Context, invitedID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT referrer_id
		FROM invited_users
		WHERE invited_user_id = $1 AND bonus_activated = FALSE
		ORDER BY created_at, referrer_id
	`, invitedID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	referrers := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		referrers = append(referrers, id)
	}
	return referrers, rows.Err()
}

// ApplyPayment marks the payment processed and extends the payer in one
// transaction. A payment id seen before yields domain.ErrDuplicateEvent.
func (r *PostgresRepository) ApplyPayment(ctx context.Context, event domain.PaymentEvent, now time.Time) (*domain.AppliedPayment, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_payments (payment_id, user_id, days, order_id, processed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (payment_id) DO NOTHING
	`, event.PaymentID, event.UserID, event.Days, event.OrderID, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, fmt.Errorf("payment %s for unknown user %d: %w", event.PaymentID, event.UserID, domain.ErrInvariantViolation)
		}
		return nil, fmt.Errorf("mark payment processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("payment %s: %w", event.PaymentID, domain.ErrDuplicateEvent)
	}

	end, err := extend(ctx, tx, event.UserID, event.Days, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &domain.AppliedPayment{
		PaymentEvent:       event,
		NewSubscriptionEnd: end,
		ProcessedAt:        now,
	}, nil
}

// ListSweepCandidates returns users whose subscription ends inside the lookahead
// window or ended before the grace cutoff.
func (r *PostgresRepository) ListSweepCandidates(ctx context.Context, window SweepWindow) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id
		FROM users
		WHERE subscription_end IS NOT NULL
		  AND (subscription_end BETWEEN $1 AND $2 OR subscription_end < $3)
		ORDER BY user_id
	`, window.From, window.To, window.ExpiredBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimExpiryWarning records that the expiry warning for subscriptionEnd was sent.
// It returns false when the warning for that end date was already claimed.
func (r *PostgresRepository) ClaimExpiryWarning(ctx context.Context, userID int64, subscriptionEnd time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET expiry_warned_for = $2
		WHERE user_id = $1 AND expiry_warned_for IS DISTINCT FROM $2::timestamptz
	`, userID, subscriptionEnd)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
