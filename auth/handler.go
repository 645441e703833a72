package auth

import (
	"context"
	"net/http"
	"time"

	"visualize-backend/apperr"
	"visualize-backend/routing"
	"visualize-backend/users"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const currentUserKey = "auth.user"

// UserStore is the part of users.Repository the session gate needs.
type UserStore interface {
	Ensure(ctx context.Context, id, email string) (*users.User, bool, error)
}

// SessionCache is cleared for a user on logout.
type SessionCache interface {
	Invalidate(ctx context.Context, userID string) error
}

// EnsureUser returns an OnAuthenticated hook that records the account on first
// sight and keeps it on the gin context for handlers.
func EnsureUser(store UserStore, log logrus.FieldLogger) func(*gin.Context, *Claims) error {
	return func(c *gin.Context, claims *Claims) error {
		u, created, err := store.Ensure(c.Request.Context(), claims.Subject, claims.Email)
		if err != nil {
			return apperr.RemoteWrite("load account", err)
		}
		if created {
			log.WithField("user_id", u.ID).Info("[auth][signup] account recorded")
		}
		c.Set(currentUserKey, u)
		return nil
	}
}

// CurrentUser returns the account stored by EnsureUser, if any.
func CurrentUser(c *gin.Context) *users.User {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*users.User)
	return u
}

type Handler struct {
	users  UserStore
	cache  SessionCache
	window time.Duration
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewHandler falls back to routing.DefaultNewUserWindow when window is not positive.
func NewHandler(store UserStore, cache SessionCache, window time.Duration, log logrus.FieldLogger) *Handler {
	if window <= 0 {
		window = routing.DefaultNewUserWindow
	}
	return &Handler{users: store, cache: cache, window: window, log: log, now: time.Now}
}

// RegisterRoutes mounts the session endpoints. open must tolerate anonymous
// callers; authed requires a valid token.
func (h *Handler) RegisterRoutes(open, authed gin.IRouter) {
	open.GET("/session", h.session)
	open.GET("/routes/resolve", h.resolve)
	authed.POST("/logout", h.logout)
}

// sessionOf builds the guard input for the caller. A nil user means anonymous.
func (h *Handler) sessionOf(c *gin.Context) (routing.Session, *users.User, error) {
	claims, ok := ClaimsFromContext(c.Request.Context())
	if !ok {
		return routing.Session{}, nil, nil
	}
	u := CurrentUser(c)
	if u == nil {
		var err error
		if u, _, err = h.users.Ensure(c.Request.Context(), claims.Subject, claims.Email); err != nil {
			return routing.Session{}, nil, apperr.RemoteWrite("load account", err)
		}
	}
	return routing.Session{Authenticated: true, AccountAge: u.AccountAge(h.now())}, u, nil
}

func (h *Handler) session(c *gin.Context) {
	s, u, err := h.sessionOf(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	state := routing.StateOf(s, h.window)
	body := gin.H{
		"authenticated": s.Authenticated,
		"state":         state,
		"next_route":    routing.Home(state),
	}
	if u != nil {
		body["user"] = u
		body["account_age_seconds"] = int64(s.AccountAge / time.Second)
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) resolve(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		apperr.Respond(c, apperr.InvalidInput("path is required"))
		return
	}
	s, _, err := h.sessionOf(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, routing.Decide(s, path, h.window))
}

func (h *Handler) logout(c *gin.Context) {
	uid, err := UserID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(c.Request.Context(), uid); err != nil {
			// the entry still expires on its TTL
			h.log.WithFields(logrus.Fields{"user_id": uid, "error": err}).Warn("[auth][logout] cache invalidation failed")
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "redirect": routing.RouteLogin})
}
