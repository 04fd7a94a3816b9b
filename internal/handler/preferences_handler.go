package handler

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/middleware"
	"github.com/vhvplatform/go-smart-notification-service/internal/preferences"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/errors"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

// PreferencesStore reads and patches a user's preferences
type PreferencesStore interface {
	Get(ctx context.Context, userID string) (*domain.NotificationPreferences, error)
	Update(ctx context.Context, userID string, patch domain.PreferencesPatch) (*domain.NotificationPreferences, error)
}

// PreferencesHandler handles notification preferences requests
type PreferencesHandler struct {
	store PreferencesStore
	log   *logger.Logger
}

// NewPreferencesHandler creates a new preferences handler
func NewPreferencesHandler(store PreferencesStore, log *logger.Logger) *PreferencesHandler {
	return &PreferencesHandler{
		store: store,
		log:   log,
	}
}

// GetPreferences returns the caller's preferences, creating defaults on first access
func (h *PreferencesHandler) GetPreferences(c *gin.Context) {
	userID := middleware.UserID(c)

	prefs, err := h.store.Get(c.Request.Context(), userID)
	if stderrors.Is(err, preferences.ErrNoUser) {
		c.JSON(http.StatusUnauthorized, errors.NewUnauthorizedError("No authenticated user", err))
		return
	}
	if err != nil {
		h.log.Error("Failed to get preferences", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to get preferences", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": prefs})
}

// UpdatePreferences merges the supplied fields into the caller's preferences
func (h *PreferencesHandler) UpdatePreferences(c *gin.Context) {
	userID := middleware.UserID(c)

	var patch domain.PreferencesPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, errors.NewValidationError("Invalid request", err))
		return
	}

	prefs, err := h.store.Update(c.Request.Context(), userID, patch)
	switch {
	case err == nil:
	case stderrors.Is(err, preferences.ErrNoUser):
		c.JSON(http.StatusUnauthorized, errors.NewUnauthorizedError("No authenticated user", err))
		return
	case stderrors.Is(err, preferences.ErrInvalidPreferences):
		c.JSON(http.StatusBadRequest, errors.NewValidationError("Invalid preferences", err))
		return
	default:
		h.log.Error("Failed to update preferences", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to update preferences", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Preferences updated successfully",
		"data":    prefs,
	})
}
