package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"visualize-backend/routing"
	"visualize-backend/users"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func validClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   sub,
		"email": "user@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func TestVerifyHS256(t *testing.T) {
	v, err := NewSecretVerifier(secret, "")
	require.NoError(t, err)

	claims, err := v.Verify(sign(t, validClaims("u-1")))
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.False(t, claims.ExpiresAt.IsZero())
}

func TestVerifyRejects(t *testing.T) {
	v, err := NewSecretVerifier(secret, "https://auth.example.com")
	require.NoError(t, err)

	expired := validClaims("u-1")
	expired["iss"] = "https://auth.example.com"
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	noExp := jwt.MapClaims{"sub": "u-1", "iss": "https://auth.example.com"}

	wrongIssuer := validClaims("u-1")
	wrongIssuer["iss"] = "https://other.example.com"

	noSub := validClaims("")
	noSub["iss"] = "https://auth.example.com"

	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("u-1")).SignedString([]byte("other"))
	require.NoError(t, err)

	cases := map[string]string{
		"expired":      sign(t, expired),
		"no exp":       sign(t, noExp),
		"wrong issuer": sign(t, wrongIssuer),
		"no subject":   sign(t, noSub),
		"wrong key":    other,
		"garbage":      "not-a-token",
	}
	for name, token := range cases {
		_, err := v.Verify(token)
		assert.Error(t, err, name)
	}
}

func TestNewSecretVerifierRequiresSecret(t *testing.T) {
	_, err := NewSecretVerifier(nil, "")
	assert.Error(t, err)
}

type fakeStore struct {
	user    *users.User
	created bool
	err     error
	calls   int
}

func (f *fakeStore) Ensure(_ context.Context, id, email string) (*users.User, bool, error) {
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	if f.user == nil {
		f.user = &users.User{ID: id, Email: email, ReferralCode: "ABCD2345", CreatedAt: time.Now()}
		f.created = true
	}
	return f.user, f.created, nil
}

type fakeCache struct{ invalidated []string }

func (f *fakeCache) Invalidate(_ context.Context, userID string) error {
	f.invalidated = append(f.invalidated, userID)
	return nil
}

func newRouter(t *testing.T, store *fakeStore, cache *fakeCache) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()
	v, err := NewSecretVerifier(secret, "")
	require.NoError(t, err)

	hook := EnsureUser(store, log)
	r := gin.New()
	open := r.Group("/", Middleware(v, MiddlewareConfig{Optional: true, OnAuthenticated: hook, Log: log}))
	authed := r.Group("/", Middleware(v, MiddlewareConfig{OnAuthenticated: hook, Log: log}))
	h := NewHandler(store, cache, routing.DefaultNewUserWindow, log)
	h.RegisterRoutes(open, authed)
	return r, h
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareMissingTokenRedirectsToLogin(t *testing.T) {
	r, _ := newRouter(t, &fakeStore{}, &fakeCache{})
	w := do(r, http.MethodPost, "/logout", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "auth_required", body["code"])
	assert.Equal(t, "/login", body["redirect"])
}

func TestMiddlewareOptionalStillRejectsBadToken(t *testing.T) {
	r, _ := newRouter(t, &fakeStore{}, &fakeCache{})
	w := do(r, http.MethodGet, "/session", "bad")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewareHookFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	r, _ := newRouter(t, store, &fakeCache{})
	w := do(r, http.MethodGet, "/session", sign(t, validClaims("u-1")))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMiddlewareDisabledUsesDevSubject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(nil, MiddlewareConfig{Disabled: true, Log: logrus.New()}))
	r.GET("/who", func(c *gin.Context) {
		uid, err := UserID(c)
		require.NoError(t, err)
		c.String(http.StatusOK, uid)
	})
	w := do(r, http.MethodGet, "/who", "")
	assert.Equal(t, DevSubject, w.Body.String())
}

func TestSessionAnonymous(t *testing.T) {
	r, _ := newRouter(t, &fakeStore{}, &fakeCache{})
	w := do(r, http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["authenticated"])
	assert.Equal(t, "anonymous", body["state"])
	assert.Equal(t, "/login", body["next_route"])
}

func TestSessionNewThenEstablished(t *testing.T) {
	store := &fakeStore{}
	r, h := newRouter(t, store, &fakeCache{})
	token := sign(t, validClaims("u-9"))

	w := do(r, http.MethodGet, "/session", token)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "new", body["state"])
	assert.Equal(t, "/career", body["next_route"])
	assert.Equal(t, 1, store.calls, "hook result is reused by the handler")

	created := store.user.CreatedAt
	h.now = func() time.Time { return created.Add(2 * time.Minute) }
	w = do(r, http.MethodGet, "/routes/resolve?path=/career", token)
	require.Equal(t, http.StatusOK, w.Code)
	var d routing.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.False(t, d.Allow)
	assert.Equal(t, "/categories", d.RedirectTo)
}

func TestResolveRequiresPath(t *testing.T) {
	r, _ := newRouter(t, &fakeStore{}, &fakeCache{})
	w := do(r, http.MethodGet, "/routes/resolve", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogoutInvalidatesCache(t *testing.T) {
	cache := &fakeCache{}
	r, _ := newRouter(t, &fakeStore{}, cache)
	w := do(r, http.MethodPost, "/logout", sign(t, validClaims("u-5")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"u-5"}, cache.invalidated)
}

func TestNewHandlerDefaultsWindow(t *testing.T) {
	log, _ := test.NewNullLogger()
	assert.Equal(t, routing.DefaultNewUserWindow, NewHandler(nil, nil, 0, log).window)
}
