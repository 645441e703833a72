package referrals

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"visualize-backend/apperr"
	"visualize-backend/auth"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const webhookSecretHeader = "X-Webhook-Secret"

type Handler struct {
	svc           *Service
	webhookSecret string
	appURL        string
	log           logrus.FieldLogger
}

func NewHandler(svc *Service, webhookSecret, appURL string, log logrus.FieldLogger) *Handler {
	return &Handler{svc: svc, webhookSecret: webhookSecret, appURL: appURL, log: log}
}

// RegisterRoutes mounts the webhook on open and the user endpoints on authed.
func (h *Handler) RegisterRoutes(open, authed gin.IRouter) {
	open.POST("/referrals/process", h.process)
	authed.POST("/signup", h.signup)
	authed.GET("/referrals/me", h.me)
}

type processRequest struct {
	ReferralCode string `json:"referral_code" binding:"required"`
	NewUserID    string `json:"new_user_id" binding:"required"`
}

func (h *Handler) process(c *gin.Context) {
	if h.webhookSecret == "" {
		h.log.Warn("[referral][webhook] REFERRAL_WEBHOOK_SECRET not set; rejecting")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "referral webhook not configured"})
		return
	}
	got := c.GetHeader(webhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
		return
	}
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.InvalidInput("referral_code and new_user_id are required"))
		return
	}
	res, err := h.svc.Grant(c.Request.Context(), req.ReferralCode, strings.TrimSpace(req.NewUserID))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, grantBody(res))
}

type signupRequest struct {
	ReferralCode string `json:"referral_code"`
}

// signup runs after the hosted sign-up completes. The account itself is
// recorded by the auth hook; a bad referral code does not fail the sign-up
// and is reported alongside the user instead.
func (h *Handler) signup(c *gin.Context) {
	uid, err := auth.UserID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	var req signupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, apperr.InvalidInput("invalid body"))
			return
		}
	}
	u := auth.CurrentUser(c)
	if u == nil {
		if u, _, err = h.svc.users.Ensure(c.Request.Context(), uid, ""); err != nil {
			apperr.Respond(c, apperr.RemoteWrite("load account", err))
			return
		}
	}

	body := gin.H{"user": u}
	if code := strings.TrimSpace(req.ReferralCode); code != "" {
		res, err := h.svc.Grant(c.Request.Context(), code, uid)
		var appErr *apperr.Error
		switch {
		case err == nil:
			body["referral"] = res
		case errors.As(err, &appErr) && appErr.Kind != apperr.KindRemoteWrite:
			body["referral_error"] = gin.H{"error": appErr.Message, "code": appErr.Kind}
		default:
			apperr.Respond(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) me(c *gin.Context) {
	uid, err := auth.UserID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	u := auth.CurrentUser(c)
	if u == nil {
		if u, err = h.svc.users.Get(c.Request.Context(), uid); err != nil {
			apperr.Respond(c, apperr.RemoteWrite("load account", err))
			return
		}
		if u == nil {
			apperr.Respond(c, apperr.NotFound("account not found"))
			return
		}
	}
	stats, err := h.svc.Stats(c.Request.Context(), u, h.appURL)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// grantBody reports a replayed grant with the already_processed code; it is
// still a success for the caller.
func grantBody(res *Result) gin.H {
	body := gin.H{"success": true, "already_processed": res.AlreadyProcessed, "referral": res.Referral}
	if res.AlreadyProcessed {
		notice := apperr.AlreadyProcessed("referral already processed")
		body["code"] = notice.Kind
		body["message"] = notice.Message
	}
	return body
}
