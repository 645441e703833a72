package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"visualize-backend/apperr"
	"visualize-backend/config"

	"github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

var (
	ErrStripeInvalidAPIKey = errors.New("stripe_invalid_api_key")
	ErrInvalidSignature    = errors.New("invalid stripe signature")
)

// StripeService creates checkout sessions and applies subscription webhooks.
// It is nil when STRIPE_SECRET_KEY is not set.
type StripeService struct {
	repo          *Repository
	sc            *client.API
	secretKey     string
	webhookSecret string
	prices        map[string]string
	successURL    string
	cancelURL     string
	log           logrus.FieldLogger
	invalidKey    atomic.Bool
}

func maskKey(k string) string {
	if len(k) < 12 {
		return "****"
	}
	return k[:7] + "..." + k[len(k)-4:]
}

func NewStripeService(repo *Repository, cfg config.StripeConfig, appURL string, log logrus.FieldLogger) *StripeService {
	if cfg.SecretKey == "" {
		return nil
	}
	appURL = strings.TrimRight(appURL, "/")
	success := cfg.SuccessURL
	if success == "" {
		success = appURL + "/categories?checkout=success"
	}
	cancel := cfg.CancelURL
	if cancel == "" {
		cancel = appURL + "/paywall"
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)
	return &StripeService{
		repo:          repo,
		sc:            sc,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		prices:        map[string]string{PlanMonthly: cfg.PriceMonthly, PlanAnnual: cfg.PriceAnnual},
		successURL:    success,
		cancelURL:     cancel,
		log:           log,
	}
}

// CreateCheckoutSession starts a subscription checkout for plan and returns
// the hosted page URL and session id.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, userID, email, plan string) (string, string, error) {
	price := s.prices[plan]
	if price == "" {
		return "", "", apperr.InvalidInput("unknown plan")
	}
	if s.invalidKey.Load() {
		return "", "", ErrStripeInvalidAPIKey
	}
	meta := map[string]string{"user_id": userID, "plan": plan}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(userID),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(price),
			Quantity: stripe.Int64(1),
		}},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{Metadata: meta},
		Metadata:         meta,
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.Context = ctx
	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && (se.HTTPStatusCode == 401 || strings.Contains(strings.ToLower(se.Msg), "invalid api key")) {
			s.log.WithField("key", maskKey(s.secretKey)).Error("[stripe][checkout] invalid api key")
			s.invalidKey.Store(true)
			return "", "", ErrStripeInvalidAPIKey
		}
		s.log.WithError(err).Error("[stripe][checkout] session create failed")
		return "", "", err
	}
	return sess.URL, sess.ID, nil
}

// HandleWebhook verifies the payload and applies subscription lifecycle
// events in the order Stripe created them. Other event types and stale
// redeliveries are acknowledged and ignored; handled reports whether the row
// was written.
func (s *StripeService) HandleWebhook(ctx context.Context, payload []byte, signature string) (handled bool, err error) {
	if s.webhookSecret == "" {
		return false, errors.New("STRIPE_WEBHOOK_SECRET not set")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return false, apperr.InvalidInput("invalid subscription payload")
		}
		deleted := event.Type == "customer.subscription.deleted"
		eventAt := time.Unix(event.Created, 0).UTC()
		applied, err := s.apply(ctx, &sub, deleted, eventAt)
		if err != nil {
			return false, err
		}
		fields := logrus.Fields{"event": event.Type, "event_id": event.ID, "subscription": sub.ID}
		if !applied {
			s.log.WithFields(fields).Info("[stripe][webhook] stale event skipped")
			return false, nil
		}
		s.log.WithFields(fields).Info("[stripe][webhook] applied")
		return true, nil
	default:
		s.log.WithField("event", event.Type).Debug("[stripe][webhook] ignored")
		return false, nil
	}
}

func (s *StripeService) apply(ctx context.Context, sub *stripe.Subscription, deleted bool, eventAt time.Time) (bool, error) {
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	userID := sub.Metadata["user_id"]
	if userID == "" && customerID != "" {
		uid, err := s.repo.UserIDByCustomer(ctx, customerID)
		if err != nil {
			return false, apperr.RemoteWrite("find subscriber", err)
		}
		userID = uid
	}
	if userID == "" {
		return false, apperr.InvalidInput("subscription carries no user")
	}

	row := &Subscription{
		UserID:               userID,
		PlanType:             s.planOf(sub),
		Status:               string(sub.Status),
		StripeCustomerID:     customerID,
		StripeSubscriptionID: sub.ID,
		CurrentPeriodStart:   unixPtr(sub.CurrentPeriodStart),
		CurrentPeriodEnd:     unixPtr(sub.CurrentPeriodEnd),
	}
	if deleted {
		row.PlanType = PlanFree
		row.Status = StatusCanceled
	}
	applied, err := s.repo.ApplyEvent(ctx, row, eventAt)
	if err != nil {
		return false, apperr.RemoteWrite("save subscription", err)
	}
	return applied, nil
}

// planOf maps the first subscription item to a plan, by configured price id
// and then by billing interval.
func (s *StripeService) planOf(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		if p := sub.Metadata["plan"]; p == PlanMonthly || p == PlanAnnual {
			return p
		}
		return PlanFree
	}
	price := sub.Items.Data[0].Price
	for plan, id := range s.prices {
		if id != "" && id == price.ID {
			return plan
		}
	}
	if price.Recurring != nil {
		switch price.Recurring.Interval {
		case stripe.PriceRecurringIntervalYear:
			return PlanAnnual
		case stripe.PriceRecurringIntervalMonth:
			return PlanMonthly
		}
	}
	return PlanFree
}

func unixPtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
