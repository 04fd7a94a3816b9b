package handler

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vhvplatform/go-smart-notification-service/internal/dispatch"
	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/middleware"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/errors"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

// PushManager runs the push subscription lifecycle
type PushManager interface {
	ApplicationKey() string
	Enable(ctx context.Context, userID string, platform dispatch.Platform) (*domain.PushSubscription, error)
	Disable(ctx context.Context, userID string, platform dispatch.Platform) error
	Check(ctx context.Context, userID string, platform dispatch.Platform) (domain.PushStatus, error)
}

// PushHandler handles push subscription requests
type PushHandler struct {
	push PushManager
	log  *logger.Logger
}

// NewPushHandler creates a new push handler
func NewPushHandler(push PushManager, log *logger.Logger) *PushHandler {
	return &PushHandler{
		push: push,
		log:  log,
	}
}

// Subscribe stores the device subscription the client obtained
func (h *PushHandler) Subscribe(c *gin.Context) {
	userID := middleware.UserID(c)

	req, ok := h.bind(c)
	if !ok {
		return
	}

	sub, err := h.push.Enable(c.Request.Context(), userID, dispatch.NewClientPlatform(req, c.Request.UserAgent()))
	switch {
	case err == nil:
	case stderrors.Is(err, dispatch.ErrPermissionNotGranted):
		c.JSON(http.StatusForbidden, &errors.AppError{Code: "PERMISSION_NOT_GRANTED", Message: "Notification permission was not granted"})
		return
	case stderrors.Is(err, dispatch.ErrNoHandle):
		c.JSON(http.StatusBadRequest, errors.NewValidationError("endpoint and keys are required", err))
		return
	default:
		h.log.Error("Failed to enable push", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to enable push", err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": sub})
}

// Unsubscribe deactivates the given device, or every device without an endpoint
func (h *PushHandler) Unsubscribe(c *gin.Context) {
	userID := middleware.UserID(c)

	req, ok := h.bind(c)
	if !ok {
		return
	}

	if err := h.push.Disable(c.Request.Context(), userID, dispatch.NewClientPlatform(req, c.Request.UserAgent())); err != nil {
		h.log.Error("Failed to disable push", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to disable push", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Push notifications disabled"})
}

// Check reconciles the stored subscription with what the client reports
func (h *PushHandler) Check(c *gin.Context) {
	userID := middleware.UserID(c)

	req, ok := h.bind(c)
	if !ok {
		return
	}

	status, err := h.push.Check(c.Request.Context(), userID, dispatch.NewClientPlatform(req, c.Request.UserAgent()))
	if err != nil {
		h.log.Error("Failed to check push", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to check push subscription", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":            status,
		"application_key": h.push.ApplicationKey(),
	})
}

// bind reads an optional subscription body
func (h *PushHandler) bind(c *gin.Context) (domain.PushSubscriptionRequest, bool) {
	var req domain.PushSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !stderrors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errors.NewValidationError("Invalid request", err))
		return req, false
	}
	return req, true
}
