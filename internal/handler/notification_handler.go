package handler

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/middleware"
	"github.com/vhvplatform/go-smart-notification-service/internal/queue"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/errors"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

// Inbox is the delivery queue as seen by HTTP callers
type Inbox interface {
	Enqueue(ctx context.Context, userID string, c domain.Candidate) (*domain.QueuedNotification, error)
	List(ctx context.Context, userID string, limit int, unsentOnly bool) ([]*domain.QueuedNotification, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	MarkSent(ctx context.Context, userID, id string) (*domain.QueuedNotification, error)
	MarkAllSent(ctx context.Context, userID string) (int64, error)
}

// NotificationHandler handles HTTP requests for queued notifications
type NotificationHandler struct {
	inbox Inbox
	log   *logger.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(inbox Inbox, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		inbox: inbox,
		log:   log,
	}
}

// Enqueue queues a candidate for a user on behalf of a backend service
func (h *NotificationHandler) Enqueue(c *gin.Context) {
	var req domain.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.NewValidationError("Invalid request", err))
		return
	}

	row, err := h.inbox.Enqueue(c.Request.Context(), req.UserID, req.Candidate())
	if stderrors.Is(err, queue.ErrInvalidCandidate) {
		c.JSON(http.StatusBadRequest, errors.NewValidationError("Invalid notification", err))
		return
	}
	if err != nil {
		h.log.Error("Failed to enqueue notification", "error", err, "user_id", req.UserID)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to enqueue notification", err))
		return
	}

	// Enqueue is best effort; a nil row means it was dropped and logged
	if row == nil {
		c.JSON(http.StatusAccepted, gin.H{"queued": false})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"queued": true,
		"data":   row,
	})
}

// GetNotifications lists the caller's most recent notifications
func (h *NotificationHandler) GetNotifications(c *gin.Context) {
	userID := middleware.UserID(c)

	var req domain.ListNotificationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.NewValidationError("Invalid query parameters", err))
		return
	}

	rows, err := h.inbox.List(c.Request.Context(), userID, req.Limit, req.UnsentOnly)
	if err != nil {
		h.log.Error("Failed to list notifications", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to list notifications", err))
		return
	}
	if rows == nil {
		rows = []*domain.QueuedNotification{}
	}

	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// UnreadCount returns how many of the caller's notifications are unsent
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID := middleware.UserID(c)

	n, err := h.inbox.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("Failed to count notifications", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to count notifications", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": n})
}

// MarkRead marks one of the caller's notifications as sent
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID := middleware.UserID(c)
	id := c.Param("id")

	row, err := h.inbox.MarkSent(c.Request.Context(), userID, id)
	if stderrors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, errors.NewNotFoundError("Notification not found", err))
		return
	}
	if err != nil {
		h.log.Error("Failed to mark notification", "error", err, "user_id", userID, "id", id)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to mark notification", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": row})
}

// MarkAllRead marks all of the caller's notifications as sent
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID := middleware.UserID(c)

	n, err := h.inbox.MarkAllSent(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("Failed to mark notifications", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to mark notifications", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": n})
}
