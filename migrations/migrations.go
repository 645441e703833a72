package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order; every statement is idempotent.
var schema = []struct {
	name string
	stmt string
}{
	{"users", `
	CREATE TABLE IF NOT EXISTS users (
		id CHAR(36) NOT NULL PRIMARY KEY,
		email VARCHAR(191) NULL,
		referral_code VARCHAR(32) NOT NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		UNIQUE KEY uq_users_referral_code (referral_code)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
	{"user_responses", `
	CREATE TABLE IF NOT EXISTS user_responses (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id CHAR(36) NOT NULL,
		category VARCHAR(32) NOT NULL,
		response TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		KEY idx_user_responses_latest (user_id, category, updated_at),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
	{"session_credits", `
	CREATE TABLE IF NOT EXISTS session_credits (
		user_id CHAR(36) NOT NULL PRIMARY KEY,
		credits_remaining INT NOT NULL DEFAULT 2,
		referral_credits INT NOT NULL DEFAULT 0,
		last_weekly_reset DATETIME(6) NOT NULL,
		reminded_at DATETIME(6) NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
	{"referrals", `
	CREATE TABLE IF NOT EXISTS referrals (
		id CHAR(36) NOT NULL PRIMARY KEY,
		referrer_id CHAR(36) NOT NULL,
		referred_user_id CHAR(36) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		referrer_credited TINYINT(1) NOT NULL DEFAULT 0,
		referred_credited TINYINT(1) NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		completed_at DATETIME(6) NULL,
		UNIQUE KEY uq_referrals_pair (referrer_id, referred_user_id),
		KEY idx_referrals_referrer (referrer_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
	{"subscriptions", `
	CREATE TABLE IF NOT EXISTS subscriptions (
		user_id CHAR(36) NOT NULL PRIMARY KEY,
		plan_type VARCHAR(16) NOT NULL DEFAULT 'free',
		status VARCHAR(32) NOT NULL DEFAULT 'active',
		stripe_customer_id VARCHAR(255) NOT NULL DEFAULT '',
		stripe_subscription_id VARCHAR(255) NOT NULL DEFAULT '',
		current_period_start DATETIME(6) NULL,
		current_period_end DATETIME(6) NULL,
		last_event_at DATETIME(6) NULL,
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		KEY idx_subscriptions_customer (stripe_customer_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
	{"session_feedback", `
	CREATE TABLE IF NOT EXISTS session_feedback (
		id CHAR(36) NOT NULL PRIMARY KEY,
		user_id CHAR(36) NOT NULL,
		rating VARCHAR(8) NOT NULL,
		session_category_id VARCHAR(32) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		KEY idx_session_feedback_user (user_id, created_at),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
}

// Migrate creates the tables the API needs if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	for _, s := range schema {
		if _, err := db.ExecContext(ctx, s.stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.name, err)
		}
	}
	return nil
}
