package feedback

import (
	"net/http"

	"visualize-backend/apperr"
	"visualize-backend/auth"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/feedback", h.create)
	r.GET("/feedback/summary", h.summary)
}

type createRequest struct {
	Rating   Rating `json:"rating"`
	Category string `json:"category"`
}

func (h *Handler) create(c *gin.Context) {
	uid, err := auth.UserID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.InvalidInput("invalid body"))
		return
	}
	f, err := h.svc.Record(c.Request.Context(), uid, req.Rating, req.Category)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (h *Handler) summary(c *gin.Context) {
	uid, err := auth.UserID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	sum, err := h.svc.Summary(c.Request.Context(), uid)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
