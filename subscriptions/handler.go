package subscriptions

import (
	"errors"
	"io"
	"net/http"

	"visualize-backend/apperr"
	"visualize-backend/auth"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxWebhookBody = 65536

type Handler struct {
	repo   *Repository
	stripe *StripeService
	log    logrus.FieldLogger
}

// NewHandler accepts a nil stripe service; billing routes then answer 503.
func NewHandler(repo *Repository, stripe *StripeService, log logrus.FieldLogger) *Handler {
	return &Handler{repo: repo, stripe: stripe, log: log}
}

// RegisterRoutes mounts the payment webhook on open and the account routes on authed.
func (h *Handler) RegisterRoutes(open, authed gin.IRouter) {
	open.POST("/stripe/webhook", h.webhook)
	authed.GET("/subscription", h.get)
	authed.POST("/billing/checkout", h.checkout)
}

func (h *Handler) get(c *gin.Context) {
	uid, err := auth.UserID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	s, err := h.repo.Get(c.Request.Context(), uid)
	if err != nil {
		apperr.Respond(c, apperr.RemoteWrite("load subscription", err))
		return
	}
	if s == nil {
		s = Free(uid)
	}
	c.JSON(http.StatusOK, gin.H{"subscription": s, "active": s.Paid(h.repo.now())})
}

type checkoutRequest struct {
	Plan string `json:"plan" binding:"required"`
}

func (h *Handler) checkout(c *gin.Context) {
	if h.stripe == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing not configured"})
		return
	}
	uid, err := auth.UserID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.InvalidInput("plan is required"))
		return
	}
	email := ""
	if u := auth.CurrentUser(c); u != nil {
		email = u.Email
	}
	url, id, err := h.stripe.CreateCheckoutSession(c.Request.Context(), uid, email, req.Plan)
	if err != nil {
		if errors.Is(err, ErrStripeInvalidAPIKey) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing unavailable", "code": ErrStripeInvalidAPIKey.Error()})
			return
		}
		var ae *apperr.Error
		if errors.As(err, &ae) {
			apperr.Respond(c, err)
			return
		}
		apperr.Respond(c, apperr.External("stripe", err, ""))
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url, "session_id": id})
}

func (h *Handler) webhook(c *gin.Context) {
	if h.stripe == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing not configured"})
		return
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "read body"})
		return
	}
	handled, err := h.stripe.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			h.log.WithError(err).Warn("[stripe][webhook] rejected")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		h.log.WithError(err).Error("[stripe][webhook] apply failed")
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "handled": handled})
}
