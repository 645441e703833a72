// Package apperr defines the application error taxonomy and how each kind is
// surfaced to the web client (status code, message, safe redirect).
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Kind string

const (
	KindAuthRequired        Kind = "auth_required"
	KindNotFound            Kind = "not_found"
	KindInvalidSelfReferral Kind = "invalid_self_referral"
	KindAlreadyProcessed    Kind = "already_processed"
	KindRemoteWrite         Kind = "remote_write_failure"
	KindExternalService     Kind = "external_service_failure"
	KindInvalidInput        Kind = "invalid_input"
	KindCreditsExhausted    Kind = "credits_exhausted"
)

// Client routes used as redirect hints.
const (
	RouteLogin      = "/login"
	RoutePaywall    = "/paywall"
	RouteCategories = "/categories"
)

type Error struct {
	Kind     Kind
	Message  string
	Redirect string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrAuthRequired        = &Error{Kind: KindAuthRequired}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidSelfReferral = &Error{Kind: KindInvalidSelfReferral}
	ErrRemoteWrite         = &Error{Kind: KindRemoteWrite}
	ErrExternalService     = &Error{Kind: KindExternalService}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrCreditsExhausted    = &Error{Kind: KindCreditsExhausted}
)

func AuthRequired(msg string) *Error {
	return &Error{Kind: KindAuthRequired, Message: msg, Redirect: RouteLogin}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func InvalidSelfReferral() *Error {
	return &Error{Kind: KindInvalidSelfReferral, Message: "you cannot use your own referral code"}
}

func AlreadyProcessed(msg string) *Error {
	return &Error{Kind: KindAlreadyProcessed, Message: msg}
}

func RemoteWrite(op string, err error) *Error {
	return &Error{Kind: KindRemoteWrite, Message: op + " failed", Err: err}
}

// External reports a failed third-party call. redirect may be empty.
func External(service string, err error, redirect string) *Error {
	return &Error{Kind: KindExternalService, Message: service + " unavailable", Redirect: redirect, Err: err}
}

func InvalidInput(msg string) *Error {
	return &Error{Kind: KindInvalidInput, Message: msg}
}

func CreditsExhausted() *Error {
	return &Error{Kind: KindCreditsExhausted, Message: "no sessions left this week", Redirect: RoutePaywall}
}

// Status maps an error to the HTTP status the API responds with.
func Status(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindAuthRequired:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidSelfReferral:
		return http.StatusUnprocessableEntity
	case KindAlreadyProcessed:
		return http.StatusOK
	case KindExternalService:
		return http.StatusBadGateway
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindCreditsExhausted:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// Body returns the status and JSON body err is surfaced with.
func Body(err error) (int, gin.H) {
	var e *Error
	if !errors.As(err, &e) {
		e = RemoteWrite("request", err)
	}
	body := gin.H{"error": e.Message, "code": e.Kind}
	if e.Message == "" {
		body["error"] = string(e.Kind)
	}
	if e.Redirect != "" {
		body["redirect"] = e.Redirect
	}
	return Status(e), body
}

// Respond writes the JSON error body and aborts the gin chain. Internal causes
// are attached to the gin context for the access log, never sent to the client.
func Respond(c *gin.Context, err error) {
	_ = c.Error(err)
	status, body := Body(err)
	c.AbortWithStatusJSON(status, body)
}
