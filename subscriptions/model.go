package subscriptions

import "time"

const (
	PlanFree    = "free"
	PlanMonthly = "monthly"
	PlanAnnual  = "annual"
)

const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusCanceled = "canceled"
)

// Subscription mirrors the payment provider's view of a user's plan. Only
// payment webhooks write it.
type Subscription struct {
	UserID               string     `json:"user_id"`
	PlanType             string     `json:"plan_type"`
	Status               string     `json:"status"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Free is what users without a row are on.
func Free(userID string) *Subscription {
	return &Subscription{UserID: userID, PlanType: PlanFree, Status: StatusActive}
}

// Paid reports whether the plan lets the user skip the credit ledger at now.
func (s *Subscription) Paid(now time.Time) bool {
	if s == nil || s.PlanType == PlanFree {
		return false
	}
	if s.Status != StatusActive && s.Status != StatusTrialing {
		return false
	}
	return s.CurrentPeriodEnd == nil || now.Before(*s.CurrentPeriodEnd)
}
