package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DBTX is satisfied by *sql.DB and *sql.Tx so referral grants can credit
// inside their own transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get returns nil, nil when the user has no credit row yet.
func (r *Repository) Get(ctx context.Context, userID string) (*SessionCredits, error) {
	var s SessionCredits
	err := r.db.QueryRowContext(ctx, `SELECT user_id, credits_remaining, referral_credits, last_weekly_reset FROM session_credits WHERE user_id = ?`, userID).
		Scan(&s.UserID, &s.CreditsRemaining, &s.ReferralCredits, &s.LastWeeklyReset)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credits %s: %w", userID, err)
	}
	return &s, nil
}

// Create inserts the default row. It reports false when another request
// created the row first.
func (r *Repository) Create(ctx context.Context, userID string, allotment int, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT IGNORE INTO session_credits (user_id, credits_remaining, referral_credits, last_weekly_reset) VALUES (?,?,0,?)`, userID, allotment, now)
	if err != nil {
		return false, fmt.Errorf("create credits %s: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Reset refills the allotment only if last_weekly_reset still holds the value
// the caller saw, so a boundary is crossed at most once.
func (r *Repository) Reset(ctx context.Context, userID string, allotment int, seen, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE session_credits SET credits_remaining = ?, last_weekly_reset = ? WHERE user_id = ? AND last_weekly_reset = ?`, allotment, now, userID, seen)
	if err != nil {
		return false, fmt.Errorf("reset credits %s: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SetRemaining is the unguarded write used in legacy consume mode.
func (r *Repository) SetRemaining(ctx context.Context, userID string, remaining int) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE session_credits SET credits_remaining = ? WHERE user_id = ?`, remaining, userID); err != nil {
		return fmt.Errorf("set credits %s: %w", userID, err)
	}
	return nil
}

// DecrementFrom writes seen-1 only while the stored value still equals seen.
func (r *Repository) DecrementFrom(ctx context.Context, userID string, seen int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE session_credits SET credits_remaining = ? WHERE user_id = ? AND credits_remaining = ?`, seen-1, userID, seen)
	if err != nil {
		return false, fmt.Errorf("consume credit %s: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// AddReferral increments referral_credits, creating the row with the default
// allotment when absent.
func (r *Repository) AddReferral(ctx context.Context, q DBTX, userID string, allotment int, now time.Time) error {
	_, err := q.ExecContext(ctx, `INSERT INTO session_credits (user_id, credits_remaining, referral_credits, last_weekly_reset) VALUES (?,?,1,?)
		ON DUPLICATE KEY UPDATE referral_credits = referral_credits + 1`, userID, allotment, now)
	if err != nil {
		return fmt.Errorf("add referral credit %s: %w", userID, err)
	}
	return nil
}
