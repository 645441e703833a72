// Package progress serves the settings dashboard: one read-only overview of
// credits, plan, streaks, referrals and intro answers.
package progress

import (
	"context"
	"net/http"
	"time"

	"visualize-backend/apperr"
	"visualize-backend/auth"
	"visualize-backend/credits"
	"visualize-backend/feedback"
	"visualize-backend/referrals"
	"visualize-backend/responses"
	"visualize-backend/subscriptions"
	"visualize-backend/users"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type CreditSource interface {
	Peek(ctx context.Context, userID string) (*credits.Availability, error)
}

type PlanSource interface {
	Get(ctx context.Context, userID string) (*subscriptions.Subscription, error)
}

type FeedbackSource interface {
	Summary(ctx context.Context, userID string) (*feedback.Summary, error)
}

type ReferralSource interface {
	Stats(ctx context.Context, u *users.User, appURL string) (*referrals.Stats, error)
}

type AnswerSource interface {
	Latest(ctx context.Context, userID string) (responses.Answers, error)
}

// Overview is the GET /progress body.
type Overview struct {
	Credits       *credits.Availability       `json:"credits"`
	Subscription  *subscriptions.Subscription `json:"subscription"`
	Subscribed    bool                        `json:"subscribed"`
	Feedback      *feedback.Summary           `json:"feedback"`
	Referrals     *referrals.Stats            `json:"referrals,omitempty"`
	Answered      []responses.Category        `json:"answered_categories"`
	IntroComplete bool                        `json:"intro_complete"`
}

type Handler struct {
	credits   CreditSource
	plans     PlanSource
	feedback  FeedbackSource
	referrals ReferralSource
	answers   AnswerSource
	appURL    string
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewHandler(c CreditSource, p PlanSource, f FeedbackSource, r ReferralSource, a AnswerSource, appURL string, log logrus.FieldLogger) *Handler {
	return &Handler{credits: c, plans: p, feedback: f, referrals: r, answers: a, appURL: appURL, log: log, now: time.Now}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/progress", h.get)
}

func (h *Handler) get(c *gin.Context) {
	uid, err := auth.UserID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	out, err := h.Build(c.Request.Context(), uid, auth.CurrentUser(c))
	if err != nil {
		h.log.WithError(err).WithField("user_id", uid).Error("[progress] build failed")
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Build loads every section concurrently. Referral stats are skipped when the
// account row is not known.
func (h *Handler) Build(ctx context.Context, userID string, u *users.User) (*Overview, error) {
	var out Overview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := h.credits.Peek(gctx, userID)
		out.Credits = a
		return err
	})
	g.Go(func() error {
		s, err := h.plans.Get(gctx, userID)
		if err != nil {
			return apperr.RemoteWrite("load subscription", err)
		}
		if s == nil {
			s = subscriptions.Free(userID)
		}
		out.Subscription = s
		out.Subscribed = s.Paid(h.now())
		return nil
	})
	g.Go(func() error {
		s, err := h.feedback.Summary(gctx, userID)
		out.Feedback = s
		return err
	})
	if u != nil {
		g.Go(func() error {
			s, err := h.referrals.Stats(gctx, u, h.appURL)
			out.Referrals = s
			return err
		})
	}
	g.Go(func() error {
		answers, err := h.answers.Latest(gctx, userID)
		if err != nil {
			return err
		}
		out.Answered = []responses.Category{}
		for _, cat := range responses.Flow {
			if _, ok := answers[cat]; ok {
				out.Answered = append(out.Answered, cat)
			}
		}
		out.IntroComplete = len(out.Answered) == len(responses.Flow)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}
