// Package categories serves the category picker: every meditation category
// with its route and whether the caller has answered it.
package categories

import (
	"context"
	"net/http"
	"time"

	"visualize-backend/apperr"
	"visualize-backend/auth"
	"visualize-backend/responses"

	"github.com/gin-gonic/gin"
)

type AnswerSource interface {
	Latest(ctx context.Context, userID string) (responses.Answers, error)
}

type Category struct {
	ID        responses.Category `json:"id"`
	Route     string             `json:"route"`
	InFlow    bool               `json:"in_flow"`
	Answered  bool               `json:"answered"`
	UpdatedAt *time.Time         `json:"updated_at,omitempty"`
}

// All is the picker order: the intro flow, then focus.
var All = append(append([]responses.Category{}, responses.Flow...), responses.Focus)

type Handler struct {
	answers AnswerSource
}

func NewHandler(a AnswerSource) *Handler { return &Handler{answers: a} }

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/categories", h.list)
}

func (h *Handler) list(c *gin.Context) {
	uid, err := auth.UserID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	answers, err := h.answers.Latest(c.Request.Context(), uid)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": List(answers)})
}

// List annotates every category with the caller's answer state.
func List(answers responses.Answers) []Category {
	items := make([]Category, 0, len(All))
	for _, id := range All {
		item := Category{ID: id, Route: id.Route(), InFlow: id.InFlow()}
		if r, ok := answers[id]; ok {
			updated := r.UpdatedAt
			item.Answered = true
			item.UpdatedAt = &updated
		}
		items = append(items, item)
	}
	return items
}
