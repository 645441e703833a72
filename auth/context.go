package auth

import (
	"context"
	"time"

	"visualize-backend/apperr"

	"github.com/gin-gonic/gin"
)

type ctxKey int

const claimsKey ctxKey = iota

// Claims contains the verified token details we care about.
type Claims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
	Raw       map[string]any
}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok && claims != nil
}

// UserID returns the authenticated user id or an auth_required error.
func UserID(c *gin.Context) (string, error) {
	claims, ok := ClaimsFromContext(c.Request.Context())
	if !ok || claims.Subject == "" {
		return "", apperr.AuthRequired("sign in to continue")
	}
	return claims.Subject, nil
}
