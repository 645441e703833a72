package referrals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

var errDuplicatePair = errors.New("referral pair already recorded")

const (
	erDupEntry       = 1062
	erLockDeadlock   = 1213
	maxGrantAttempts = 3
)

// retryable reports whether a grant lost a race with a concurrent grant for
// the same pair: the duplicate insert, or InnoDB picking it as the deadlock
// victim after both took the gap lock on the missing row.
func retryable(err error) bool {
	if errors.Is(err, errDuplicatePair) {
		return true
	}
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == erLockDeadlock
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// lockPair reads the pair row under a row lock. nil, nil when absent.
func (r *Repository) lockPair(ctx context.Context, tx *sql.Tx, referrerID, referredID string) (*Referral, error) {
	var (
		ref       Referral
		completed sql.NullTime
	)
	err := tx.QueryRowContext(ctx, `SELECT id, referrer_id, referred_user_id, status, referrer_credited, referred_credited, created_at, completed_at
		FROM referrals WHERE referrer_id = ? AND referred_user_id = ? FOR UPDATE`, referrerID, referredID).
		Scan(&ref.ID, &ref.ReferrerID, &ref.ReferredUserID, &ref.Status, &ref.ReferrerCredited, &ref.ReferredCredited, &ref.CreatedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock referral: %w", err)
	}
	if completed.Valid {
		ref.CompletedAt = &completed.Time
	}
	return &ref, nil
}

func (r *Repository) insert(ctx context.Context, tx *sql.Tx, ref *Referral) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO referrals (id, referrer_id, referred_user_id, status, created_at) VALUES (?,?,?,?,?)`,
		ref.ID, ref.ReferrerID, ref.ReferredUserID, ref.Status, ref.CreatedAt)
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == erDupEntry {
		return errDuplicatePair
	}
	if err != nil {
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

func (r *Repository) complete(ctx context.Context, tx *sql.Tx, ref *Referral) error {
	_, err := tx.ExecContext(ctx, `UPDATE referrals SET status = ?, referrer_credited = ?, referred_credited = ?, completed_at = ? WHERE id = ?`,
		ref.Status, ref.ReferrerCredited, ref.ReferredCredited, ref.CompletedAt, ref.ID)
	if err != nil {
		return fmt.Errorf("complete referral %s: %w", ref.ID, err)
	}
	return nil
}

// CountByReferrer returns how many sign-ups used the referrer's code and how many were credited.
func (r *Repository) CountByReferrer(ctx context.Context, referrerID string) (total, completed int, err error) {
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(status = ?), 0) FROM referrals WHERE referrer_id = ?`, StatusCompleted, referrerID).
		Scan(&total, &completed)
	if err != nil {
		return 0, 0, fmt.Errorf("count referrals: %w", err)
	}
	return total, completed, nil
}

func (r *Repository) begin(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}
