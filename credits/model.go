package credits

import "time"

// SessionCredits is one user's balance. CreditsRemaining is the weekly free
// allotment; ReferralCredits are permanent units earned through referrals.
type SessionCredits struct {
	UserID           string    `json:"user_id"`
	CreditsRemaining int       `json:"credits_remaining"`
	ReferralCredits  int       `json:"referral_credits"`
	LastWeeklyReset  time.Time `json:"last_weekly_reset"`
}

func (s *SessionCredits) Total() int {
	return s.CreditsRemaining + s.ReferralCredits
}

// NextReset is the authoritative boundary at which the allotment refills.
func (s *SessionCredits) NextReset(period time.Duration) time.Time {
	return s.LastWeeklyReset.Add(period)
}

func (s *SessionCredits) DueForReset(now time.Time, period time.Duration) bool {
	return !now.Before(s.NextReset(period))
}

// Availability is what the category selection screen needs. NextReset is a
// read-only hint for the client.
type Availability struct {
	Available        bool      `json:"available"`
	NextReset        time.Time `json:"next_reset"`
	CreditsRemaining int       `json:"credits_remaining"`
	ReferralCredits  int       `json:"referral_credits"`
}
