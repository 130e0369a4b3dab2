package users

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"resume-tailor/internal/shared/server/middleware"
	"resume-tailor/internal/shared/server/respond"
)

type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", h.me)
}

func (h *Handler) me(c *gin.Context) {
	if h.Svc == nil {
		respond.Internal(c, "service unavailable")
		return
	}
	identity := User{
		ID:       middleware.UserIDFromContext(c),
		Email:    middleware.UserEmailFromContext(c),
		FullName: middleware.UserNameFromContext(c),
	}
	user, err := h.Svc.Ensure(c.Request.Context(), identity)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			respond.Canceled(c)
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "user not found", nil)
		default:
			respond.Internal(c, "failed to load user")
		}
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"id":       user.ID,
		"email":    user.Email,
		"fullName": user.FullName,
		"credits":  user.Credits.StringFixed(2),
	})
}
