package meditation

import (
	"net/http"

	"visualize-backend/apperr"
	"visualize-backend/auth"
	"visualize-backend/responses"
	"visualize-backend/sse"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	pipeline *Pipeline
}

func NewHandler(p *Pipeline) *Handler {
	return &Handler{pipeline: p}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/meditations", h.generate)
	r.GET("/meditations/stream", h.stream)
}

type generateRequest struct {
	Category string `json:"category"`
}

func parseFocus(s string) (responses.Category, error) {
	if s == "" {
		return "", nil
	}
	cat, ok := responses.ParseCategory(s)
	if !ok {
		return "", apperr.InvalidInput("unknown category")
	}
	return cat, nil
}

func (h *Handler) generate(c *gin.Context) {
	uid, err := auth.UserID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	var req generateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, apperr.InvalidInput("invalid body"))
			return
		}
	}
	focus, err := parseFocus(req.Category)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	m, err := h.pipeline.Generate(c.Request.Context(), uid, focus)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) stream(c *gin.Context) {
	uid, err := auth.UserID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	focus, err := parseFocus(c.Query("category"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	ch, errc, err := h.pipeline.Stream(c.Request.Context(), uid, focus)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	sse.Stream(c, ch, errc)
}
