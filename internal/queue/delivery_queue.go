// Package queue is the durable delivery queue: every accepted candidate is
// recorded, immediate ones are presented right away, and a drain worker
// sends the rest once they come due.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/engine"
	"github.com/vhvplatform/go-smart-notification-service/internal/feed"
	"github.com/vhvplatform/go-smart-notification-service/internal/metrics"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

// ErrInvalidCandidate wraps candidate validation failures
var ErrInvalidCandidate = errors.New("invalid notification candidate")

// DefaultListLimit is the inbox page size when none is given
const DefaultListLimit = 50

// Repository persists queued notifications
type Repository interface {
	Create(ctx context.Context, n *domain.QueuedNotification) error
	FindByUser(ctx context.Context, userID string, limit int, unsentOnly bool) ([]*domain.QueuedNotification, error)
	CountUnsent(ctx context.Context, userID string) (int64, error)
	MarkSent(ctx context.Context, userID, id string, at time.Time) (*domain.QueuedNotification, error)
	MarkAllSent(ctx context.Context, userID string, at time.Time) (int64, error)
	FindDue(ctx context.Context, now time.Time, limit int, excludeUsers []string) ([]*domain.QueuedNotification, error)
	Claim(ctx context.Context, id primitive.ObjectID, at time.Time) (bool, error)
	Release(ctx context.Context, id primitive.ObjectID) error
}

// PreferencesResolver supplies resolved preferences and never fails
type PreferencesResolver interface {
	Resolve(ctx context.Context, userID string) domain.ResolvedPreferences
}

// WindowSource supplies the current prayer window
type WindowSource interface {
	Current() domain.PrayerWindow
}

// Presenter shows a candidate immediately
type Presenter interface {
	PresentImmediate(ctx context.Context, userID string, c domain.Candidate, p domain.ResolvedPreferences) *domain.PresentedNotification
}

// DeliveryQueue records candidates and triggers immediate presentation
type DeliveryQueue struct {
	repo        Repository
	preferences PreferencesResolver
	prayer      WindowSource
	presenter   Presenter
	publisher   feed.Publisher
	loc         *time.Location
	now         func() time.Time
	log         *logger.Logger
}

// NewDeliveryQueue creates a queue. Time-of-day rules use loc unless the
// user has a timezone of their own. A nil publisher discards changes.
func NewDeliveryQueue(repo Repository, preferences PreferencesResolver, prayer WindowSource, presenter Presenter, publisher feed.Publisher, loc *time.Location, log *logger.Logger) *DeliveryQueue {
	if publisher == nil {
		publisher = feed.Discard{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &DeliveryQueue{
		repo:        repo,
		preferences: preferences,
		prayer:      prayer,
		presenter:   presenter,
		publisher:   publisher,
		loc:         loc,
		now:         time.Now,
		log:         log,
	}
}

// Enqueue records c for userID and presents it at once when it is due now
// and allowed. Storage failures are logged and yield a nil row with a nil
// error so the producing action never fails; only an invalid candidate
// returns an error. Enqueuing the same candidate twice records two rows.
func (q *DeliveryQueue) Enqueue(ctx context.Context, userID string, c domain.Candidate) (*domain.QueuedNotification, error) {
	if userID == "" {
		q.log.Debug("Dropping candidate without a user", "channel", c.Channel)
		return nil, nil
	}

	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	}

	prefs := q.preferences.Resolve(ctx, userID)
	window := q.prayer.Current()
	now := q.now().In(q.loc)

	verdict := engine.Evaluate(c, prefs, window, now)
	metrics.CandidatesEvaluated.WithLabelValues(string(c.Channel), string(verdict.Reason)).Inc()

	scheduledAt := ScheduleFor(c, prefs, now)
	row := &domain.QueuedNotification{
		UserID:      userID,
		Channel:     c.Channel,
		Title:       c.Title,
		Body:        c.Body,
		Metadata:    c.Metadata,
		Priority:    c.Priority,
		ScheduledAt: scheduledAt,
		Deliverable: verdict.Deliver,
		Reason:      string(verdict.Reason),
		CreatedAt:   now,
	}
	if scheduledAt.After(now) {
		row.Bundled = true
		row.BundleID = BundleID(userID, c.Channel, scheduledAt, prefs.SummaryDelayMinutes)
	}

	if err := q.repo.Create(ctx, row); err != nil {
		q.log.Error("Failed to enqueue notification", "user_id", userID, "channel", c.Channel, "error", err)
		metrics.EnqueueFailures.WithLabelValues("create").Inc()
		return nil, nil
	}
	metrics.NotificationsEnqueued.WithLabelValues(string(c.Channel), strconv.FormatBool(row.Bundled)).Inc()
	q.publisher.Publish(feed.Change{Op: feed.OpInsert, UserID: userID, Notification: row})

	q.log.Debug("Notification enqueued",
		"user_id", userID,
		"id", row.ID.Hex(),
		"channel", c.Channel,
		"priority", c.Priority,
		"scheduled_at", scheduledAt,
		"reason", verdict.Reason,
	)

	if !row.Bundled && verdict.Deliver {
		if presented := q.presenter.PresentImmediate(ctx, userID, c, prefs); presented != nil {
			q.markPresented(ctx, row)
		}
	}

	return row, nil
}

// markPresented flags an immediately presented row so the drain worker skips it
func (q *DeliveryQueue) markPresented(ctx context.Context, row *domain.QueuedNotification) {
	at := q.now()
	claimed, err := q.repo.Claim(ctx, row.ID, at)
	if err != nil {
		q.log.Error("Failed to mark notification sent", "id", row.ID.Hex(), "error", err)
		metrics.EnqueueFailures.WithLabelValues("mark_sent").Inc()
		return
	}
	if !claimed {
		return
	}
	row.Sent = true
	row.SentAt = &at
	q.publisher.Publish(feed.Change{Op: feed.OpUpdate, UserID: row.UserID, Notification: row})
}

// ScheduleFor returns now for urgent candidates or when summaries are off,
// and now plus the summary delay otherwise
func ScheduleFor(c domain.Candidate, p domain.ResolvedPreferences, now time.Time) time.Time {
	if c.Priority.IsUrgent() || !p.SummaryEnabled {
		return now
	}
	return now.Add(time.Duration(p.SummaryDelayMinutes) * time.Minute)
}

var bundleNamespace = uuid.MustParse("0b6b7a52-3f1c-4e59-9d1e-5d3c8f0f2a61")

// BundleID groups a user's delayed rows of one channel whose delivery falls
// into the same delay-sized slot
func BundleID(userID string, ch domain.Channel, scheduledAt time.Time, delayMinutes int) string {
	slot := scheduledAt.UTC().Truncate(time.Minute)
	if delayMinutes > 0 {
		slot = scheduledAt.UTC().Truncate(time.Duration(delayMinutes) * time.Minute)
	}
	name := fmt.Sprintf("%s|%s|%d", userID, ch, slot.Unix())
	return uuid.NewSHA1(bundleNamespace, []byte(name)).String()
}

// List returns the user's most recent notifications
func (q *DeliveryQueue) List(ctx context.Context, userID string, limit int, unsentOnly bool) ([]*domain.QueuedNotification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return q.repo.FindByUser(ctx, userID, limit, unsentOnly)
}

// UnreadCount returns how many of the user's notifications are not yet sent
func (q *DeliveryQueue) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return q.repo.CountUnsent(ctx, userID)
}

// MarkSent flags one notification as sent; repeating it is harmless
func (q *DeliveryQueue) MarkSent(ctx context.Context, userID, id string) (*domain.QueuedNotification, error) {
	n, err := q.repo.MarkSent(ctx, userID, id, q.now())
	if err != nil {
		return nil, err
	}
	q.publisher.Publish(feed.Change{Op: feed.OpUpdate, UserID: userID, Notification: n})
	return n, nil
}

// MarkAllSent flags all of the user's unsent notifications as sent
func (q *DeliveryQueue) MarkAllSent(ctx context.Context, userID string) (int64, error) {
	n, err := q.repo.MarkAllSent(ctx, userID, q.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.publisher.Publish(feed.Change{Op: feed.OpUpdate, UserID: userID})
	}
	return n, nil
}
