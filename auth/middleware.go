package auth

import (
	"strings"

	"visualize-backend/apperr"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DevSubject is the user id every request runs as when auth is disabled.
const DevSubject = "00000000-0000-4000-8000-000000000001"

// MiddlewareConfig controls auth enforcement behavior.
type MiddlewareConfig struct {
	Disabled bool
	// Optional lets requests without a token through anonymously; a token
	// that is present must still verify.
	Optional bool
	// OnAuthenticated runs after a token verifies, before the handler.
	OnAuthenticated func(c *gin.Context, claims *Claims) error
	Log             logrus.FieldLogger
}

// Middleware enforces bearer token auth and injects claims into the request context.
func Middleware(verifier *Verifier, cfg MiddlewareConfig) gin.HandlerFunc {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(c *gin.Context) {
		if cfg.Disabled {
			claims := &Claims{Subject: DevSubject, Raw: map[string]any{"sub": DevSubject}}
			authenticate(c, claims, cfg, log)
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			if cfg.Optional {
				c.Next()
				return
			}
			log.WithField("path", c.Request.URL.Path).Info("[auth] missing authorization header")
			apperr.Respond(c, apperr.AuthRequired("missing authorization header"))
			return
		}

		token, ok := extractBearerToken(authHeader)
		if !ok {
			log.WithField("path", c.Request.URL.Path).Info("[auth] malformed authorization header")
			apperr.Respond(c, apperr.AuthRequired("invalid authorization header"))
			return
		}
		if verifier == nil {
			apperr.Respond(c, apperr.AuthRequired("auth verifier not configured"))
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			log.WithFields(logrus.Fields{"path": c.Request.URL.Path, "error": err}).Info("[auth] token invalid")
			apperr.Respond(c, apperr.AuthRequired("session expired"))
			return
		}
		authenticate(c, claims, cfg, log)
	}
}

func authenticate(c *gin.Context, claims *Claims, cfg MiddlewareConfig, log logrus.FieldLogger) {
	c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims))
	if cfg.OnAuthenticated != nil {
		if err := cfg.OnAuthenticated(c, claims); err != nil {
			log.WithFields(logrus.Fields{"user_id": claims.Subject, "error": err}).Error("[auth] session hook failed")
			apperr.Respond(c, err)
			return
		}
	}
	c.Next()
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
