package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
	"github.com/weiawesome/wes-social-realtime/internal/service"
	pkglog "github.com/weiawesome/wes-social-realtime/pkg/log"
	"github.com/weiawesome/wes-social-realtime/pkg/middleware"
	"github.com/weiawesome/wes-social-realtime/pkg/response"
)

// RoleService is the role a caller's token must carry to push events.
const RoleService = "service"

// NotifyHandler serves the internal push API used by the web application
// after it commits a mutation.
type NotifyHandler struct {
	svc            service.PresenceService
	authMiddleware *middleware.AuthMiddleware
}

// NewNotifyHandler creates a new notify handler.
func NewNotifyHandler(svc service.PresenceService, authMiddleware *middleware.AuthMiddleware) *NotifyHandler {
	return &NotifyHandler{
		svc:            svc,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes onto the Gin engine.
func (h *NotifyHandler) RegisterRoutes(r *gin.Engine) {
	internal := r.Group("/internal/v1", h.authMiddleware.RequireAuth(), h.authMiddleware.RequireRole(RoleService))
	{
		// POST /internal/v1/emit
		internal.POST("/emit", h.Emit)
		// POST /internal/v1/users/status
		internal.POST("/users/status", h.Statuses)
	}
}

// Emit handles POST /internal/v1/emit. The push is best-effort: a 202 means
// the event was accepted, not that anyone received it.
func (h *NotifyHandler) Emit(c *gin.Context) {
	ctx := c.Request.Context()
	l := pkglog.Ctx(ctx)

	var req domain.NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	if err := h.svc.Notify(ctx, &req); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownEvent),
			errors.Is(err, domain.ErrInvalidTarget),
			errors.Is(err, domain.ErrInvalidRoom):
			response.BadRequest(c, err.Error())
		default:
			l.Error().Err(err).Str(pkglog.FieldEvent, req.Event).Msg("notify failed")
			response.InternalError(c, "failed to emit event")
		}
		return
	}

	room, _ := req.Target()
	response.Accepted(c, gin.H{"room": room, "event": req.Event})
}

type statusesRequest struct {
	UserIDs []string `json:"user_ids" binding:"required"`
}

// Statuses handles POST /internal/v1/users/status for page-load hydration by
// the web application.
func (h *NotifyHandler) Statuses(c *gin.Context) {
	ctx := c.Request.Context()

	var req statusesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "user_ids is required")
		return
	}

	users, err := h.svc.GetStatuses(ctx, req.UserIDs)
	if err != nil {
		if errors.Is(err, domain.ErrTooManyUserIDs) {
			response.BadRequest(c, err.Error())
			return
		}
		l := pkglog.Ctx(ctx)
		l.Error().Err(err).Msg("status query failed")
		response.InternalError(c, "failed to get statuses")
		return
	}

	response.Success(c, gin.H{"users": users})
}
