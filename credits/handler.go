package credits

import (
	"context"
	"net/http"

	"visualize-backend/apperr"
	"visualize-backend/auth"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SubscriptionChecker reports whether a user has a paid plan that bypasses credits.
type SubscriptionChecker interface {
	IsActive(ctx context.Context, userID string) (bool, error)
}

type Handler struct {
	ledger *Ledger
	subs   SubscriptionChecker
	log    logrus.FieldLogger
}

func NewHandler(ledger *Ledger, subs SubscriptionChecker, log logrus.FieldLogger) *Handler {
	return &Handler{ledger: ledger, subs: subs, log: log}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/credits", h.getCredits)
	r.POST("/sessions/start", h.startSession)
}

func (h *Handler) getCredits(c *gin.Context) {
	uid, err := auth.UserID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	avail, err := h.ledger.CheckAvailability(c.Request.Context(), uid)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, avail)
}

func (h *Handler) startSession(c *gin.Context) {
	uid, err := auth.UserID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	ctx := c.Request.Context()

	if h.subs != nil {
		active, err := h.subs.IsActive(ctx, uid)
		if err != nil {
			apperr.Respond(c, apperr.RemoteWrite("load subscription", err))
			return
		}
		if active {
			h.log.WithField("user_id", uid).Debug("[credits][skip] active subscription")
			c.JSON(http.StatusOK, gin.H{"consumed": false, "subscribed": true})
			return
		}
	}

	avail, err := h.ledger.CheckAvailability(ctx, uid)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if !avail.Available {
		apperr.Respond(c, apperr.CreditsExhausted())
		return
	}
	remaining, err := h.ledger.ConsumeCredit(ctx, uid)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"consumed":          true,
		"subscribed":        false,
		"credits_remaining": remaining,
		"referral_credits":  avail.ReferralCredits,
		"next_reset":        avail.NextReset,
	})
}
