package referrals

import "time"

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Referral links a referrer to the account that signed up with their code.
// The credited flags record which side has received its grant so a replay
// can finish a partial grant without paying anyone twice.
type Referral struct {
	ID               string     `json:"id"`
	ReferrerID       string     `json:"referrer_id"`
	ReferredUserID   string     `json:"referred_user_id"`
	Status           string     `json:"status"`
	ReferrerCredited bool       `json:"referrer_credited"`
	ReferredCredited bool       `json:"referred_credited"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func (r *Referral) Settled() bool {
	return r.ReferrerCredited && r.ReferredCredited
}

type Result struct {
	Referral         *Referral `json:"referral"`
	AlreadyProcessed bool      `json:"already_processed"`
	ToppedUp         bool      `json:"topped_up"`
}

type Stats struct {
	Code      string `json:"referral_code"`
	ShareLink string `json:"share_link"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
}
