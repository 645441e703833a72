package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Get returns nil, nil when the user never subscribed.
func (r *Repository) Get(ctx context.Context, userID string) (*Subscription, error) {
	var (
		s          Subscription
		start, end sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `SELECT user_id, plan_type, status, stripe_customer_id, stripe_subscription_id, current_period_start, current_period_end, updated_at
		FROM subscriptions WHERE user_id = ?`, userID).
		Scan(&s.UserID, &s.PlanType, &s.Status, &s.StripeCustomerID, &s.StripeSubscriptionID, &start, &end, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", userID, err)
	}
	if start.Valid {
		s.CurrentPeriodStart = &start.Time
	}
	if end.Valid {
		s.CurrentPeriodEnd = &end.Time
	}
	return &s, nil
}

// IsActive reports whether the user is on a paid plan right now.
func (r *Repository) IsActive(ctx context.Context, userID string) (bool, error) {
	s, err := r.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.Paid(r.now()), nil
}

// ApplyEvent writes the row for s.UserID unless a payment event newer than
// eventAt was already applied; applied is false for such stale deliveries.
func (r *Repository) ApplyEvent(ctx context.Context, s *Subscription, eventAt time.Time) (applied bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var last sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT last_event_at FROM subscriptions WHERE user_id = ? FOR UPDATE`, s.UserID).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("lock subscription %s: %w", s.UserID, err)
	}
	if last.Valid && last.Time.After(eventAt) {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO subscriptions (user_id, plan_type, status, stripe_customer_id, stripe_subscription_id, current_period_start, current_period_end, last_event_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON DUPLICATE KEY UPDATE plan_type = VALUES(plan_type), status = VALUES(status), stripe_customer_id = VALUES(stripe_customer_id),
			stripe_subscription_id = VALUES(stripe_subscription_id), current_period_start = VALUES(current_period_start), current_period_end = VALUES(current_period_end),
			last_event_at = VALUES(last_event_at)`,
		s.UserID, s.PlanType, s.Status, s.StripeCustomerID, s.StripeSubscriptionID, s.CurrentPeriodStart, s.CurrentPeriodEnd, eventAt)
	if err != nil {
		return false, fmt.Errorf("upsert subscription %s: %w", s.UserID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// UserIDByCustomer finds the user a Stripe customer was first linked to.
func (r *Repository) UserIDByCustomer(ctx context.Context, customerID string) (string, error) {
	var uid string
	err := r.db.QueryRowContext(ctx, `SELECT user_id FROM subscriptions WHERE stripe_customer_id = ? LIMIT 1`, customerID).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find customer %s: %w", customerID, err)
	}
	return uid, nil
}
