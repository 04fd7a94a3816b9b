package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/errors"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

// PrayerOracle exposes the current prayer window and today's schedule
type PrayerOracle interface {
	Current() domain.PrayerWindow
	Schedule(ctx context.Context) ([]domain.PrayerTime, error)
}

// PrayerHandler handles prayer window requests
type PrayerHandler struct {
	oracle PrayerOracle
	log    *logger.Logger
}

// NewPrayerHandler creates a new prayer handler
func NewPrayerHandler(oracle PrayerOracle, log *logger.Logger) *PrayerHandler {
	return &PrayerHandler{oracle: oracle, log: log}
}

// GetWindow returns the current prayer observance window
func (h *PrayerHandler) GetWindow(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.oracle.Current()})
}

// GetSchedule returns today's prayer times
func (h *PrayerHandler) GetSchedule(c *gin.Context) {
	schedule, err := h.oracle.Schedule(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to load prayer schedule", "error", err)
		c.JSON(http.StatusServiceUnavailable, errors.NewInternalError("Prayer schedule unavailable", err))
		return
	}
	if schedule == nil {
		schedule = []domain.PrayerTime{}
	}

	c.JSON(http.StatusOK, gin.H{"data": schedule})
}
