package service

import (
	"context"
	"fmt"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

// Enqueuer records candidates for a user
type Enqueuer interface {
	Enqueue(ctx context.Context, userID string, c domain.Candidate) (*domain.QueuedNotification, error)
}

// FanOutResult counts what one event produced
type FanOutResult struct {
	Recipients int
	Enqueued   int
	Dropped    int
}

// NotificationService turns community events into per-recipient candidates
type NotificationService struct {
	queue Enqueuer
	log   *logger.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(queue Enqueuer, log *logger.Logger) *NotificationService {
	return &NotificationService{
		queue: queue,
		log:   log,
	}
}

// ProcessEvent fans the event out to its recipients. Each recipient is
// enqueued independently; the sender never notifies themselves and
// duplicate recipients are notified once. Only an event that cannot
// produce a candidate returns an error.
func (s *NotificationService) ProcessEvent(ctx context.Context, event *domain.CommunityEvent) (FanOutResult, error) {
	var result FanOutResult

	if err := event.Validate(); err != nil {
		return result, err
	}

	candidate := event.CandidateFor()
	if err := candidate.Validate(); err != nil {
		return result, fmt.Errorf("event %s: %w", event.ID, err)
	}

	s.log.Info("Processing event", "type", event.Type, "event_id", event.ID, "recipients", len(event.Recipients))

	seen := make(map[string]struct{}, len(event.Recipients))
	for _, userID := range event.Recipients {
		if userID == "" || userID == event.SenderID {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		result.Recipients++

		row, err := s.queue.Enqueue(ctx, userID, copyCandidate(candidate))
		if err != nil {
			s.log.Warn("Failed to enqueue candidate", "event_id", event.ID, "user_id", userID, "error", err)
			result.Dropped++
			continue
		}
		if row == nil {
			result.Dropped++
			continue
		}
		result.Enqueued++
	}

	return result, nil
}

// copyCandidate gives every recipient its own metadata map
func copyCandidate(c domain.Candidate) domain.Candidate {
	md := make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		md[k] = v
	}
	c.Metadata = md
	return c
}
