// Package auth verifies hosted-auth session tokens and exposes the session to handlers.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"visualize-backend/config"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const defaultLeeway = 30 * time.Second

// Verifier validates bearer tokens issued by the hosted auth provider, either
// with the project's shared HS256 secret or against the provider's JWKS.
type Verifier struct {
	parser  *jwt.Parser
	keyfunc jwt.Keyfunc
}

// NewVerifier picks JWKS when a URL is configured, the shared secret otherwise.
func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	if strings.TrimSpace(cfg.JWKSURL) != "" {
		return NewJWKSVerifier(cfg.JWKSURL, cfg.Issuer)
	}
	return NewSecretVerifier([]byte(cfg.JWTSecret), cfg.Issuer)
}

func NewSecretVerifier(secret []byte, issuer string) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret must be set")
	}
	return &Verifier{
		parser: newParser(issuer, jwt.SigningMethodHS256.Name),
		keyfunc: func(*jwt.Token) (any, error) {
			return secret, nil
		},
	}, nil
}

func NewJWKSVerifier(jwksURL, issuer string) (*Verifier, error) {
	k, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("init JWKS keyfunc: %w", err)
	}
	return &Verifier{
		parser:  newParser(issuer, jwt.SigningMethodRS256.Name, jwt.SigningMethodES256.Name),
		keyfunc: k.Keyfunc,
	}, nil
}

func newParser(issuer string, methods ...string) *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(defaultLeeway),
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	}
	if issuer = strings.TrimSpace(issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return jwt.NewParser(opts...)
}

// Verify parses and validates a token, returning the claims handlers need.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := v.parser.Parse(tokenString, v.keyfunc)
	if err != nil {
		return nil, err
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	claims := &Claims{
		Subject: readString(mapClaims, "sub"),
		Email:   readString(mapClaims, "email"),
		Raw:     mapClaims,
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if claims.Subject == "" {
		return nil, errors.New("token missing sub")
	}
	return claims, nil
}

func readString(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
