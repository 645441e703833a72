package responses

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
	r.GET("/responses", h.list)
	r.GET("/responses/:category", h.get)
	r.GET("/responses/:category/history", h.history)
	r.POST("/responses/:category", h.submit)
	r.PUT("/responses/:category", h.edit)
}

type answerRequest struct {
	Response string `json:"response"`
}

// bind resolves the caller, the category param and (for writes) the body.
func bind(c *gin.Context, withBody bool) (string, Category, string, bool) {
	uid, err := auth.UserID(c)
	if err != nil {
		apperr.Respond(c, err)
		return "", "", "", false
	}
	cat, ok := ParseCategory(c.Param("category"))
	if !ok {
		apperr.Respond(c, apperr.NotFound("unknown category"))
		return "", "", "", false
	}
	var req answerRequest
	if withBody {
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, apperr.InvalidInput("invalid body"))
			return "", "", "", false
		}
	}
	return uid, cat, req.Response, true
}

func (h *Handler) submit(c *gin.Context) {
	uid, cat, text, ok := bind(c, true)
	if !ok {
		return
	}
	resp, next, err := h.svc.SubmitStep(c.Request.Context(), uid, cat, text)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": resp, "next_route": next})
}

func (h *Handler) edit(c *gin.Context) {
	uid, cat, text, ok := bind(c, true)
	if !ok {
		return
	}
	resp, err := h.svc.Edit(c.Request.Context(), uid, cat, text)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": resp})
}

func (h *Handler) list(c *gin.Context) {
	uid, err := auth.UserID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	answers, err := h.svc.Latest(c.Request.Context(), uid)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": answers})
}

func (h *Handler) get(c *gin.Context) {
	uid, cat, _, ok := bind(c, false)
	if !ok {
		return
	}
	resp, err := h.svc.Get(c.Request.Context(), uid, cat)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": resp})
}

func (h *Handler) history(c *gin.Context) {
	uid, cat, _, ok := bind(c, false)
	if !ok {
		return
	}
	list, err := h.svc.History(c.Request.Context(), uid, cat)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}
