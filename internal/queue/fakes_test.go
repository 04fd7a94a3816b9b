package queue

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
)

type memoryRepository struct {
	mu         sync.Mutex
	rows       []*domain.QueuedNotification
	createErr  error
	claimErr   error
	releases   int
	dueQueries int

	readBeforeClaim map[primitive.ObjectID]bool
}

func (m *memoryRepository) Create(ctx context.Context, n *domain.QueuedNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	n.ID = primitive.NewObjectID()
	c := *n
	m.rows = append(m.rows, &c)
	return nil
}

func (m *memoryRepository) get(id primitive.ObjectID) *domain.QueuedNotification {
	for _, r := range m.rows {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (m *memoryRepository) snapshot(id primitive.ObjectID) domain.QueuedNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.get(id)
}

func (m *memoryRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memoryRepository) FindByUser(ctx context.Context, userID string, limit int, unsentOnly bool) ([]*domain.QueuedNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.QueuedNotification
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.rows[i]
		if r.UserID == userID && (!unsentOnly || !r.Sent) {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memoryRepository) CountUnsent(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.rows {
		if r.UserID == userID && !r.Sent {
			n++
		}
	}
	return n, nil
}

func (m *memoryRepository) MarkSent(ctx context.Context, userID, id string, at time.Time) (*domain.QueuedNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	r := m.get(oid)
	if r == nil || r.UserID != userID {
		return nil, domain.ErrNotFound
	}
	if !r.Sent {
		r.Sent = true
		r.SentAt = &at
	}
	c := *r
	return &c, nil
}

func (m *memoryRepository) MarkAllSent(ctx context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.rows {
		if r.UserID == userID && !r.Sent {
			r.Sent = true
			r.SentAt = &at
			n++
		}
	}
	return n, nil
}

func (m *memoryRepository) FindDue(ctx context.Context, now time.Time, limit int, excludeUsers []string) ([]*domain.QueuedNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dueQueries++
	var out []*domain.QueuedNotification
	for _, r := range m.rows {
		if slices.Contains(excludeUsers, r.UserID) {
			continue
		}
		if !r.Sent && r.Deliverable && !r.ScheduledAt.After(now) {
			c := *r
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRepository) Claim(ctx context.Context, id primitive.ObjectID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	r := m.get(id)
	if r == nil || r.Sent {
		return false, nil
	}
	if m.readBeforeClaim[id] {
		// The user read it between load and claim
		r.Sent = true
		return false, nil
	}
	r.Sent = true
	r.SentAt = &at
	return true, nil
}

func (m *memoryRepository) Release(ctx context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	r := m.get(id)
	if r == nil {
		return errors.New("missing row")
	}
	r.Sent = false
	r.SentAt = nil
	return nil
}

type staticPreferences map[string]domain.ResolvedPreferences

func (s staticPreferences) Resolve(ctx context.Context, userID string) domain.ResolvedPreferences {
	if p, ok := s[userID]; ok {
		return p
	}
	return domain.ResolvePreferences(&domain.NotificationPreferences{UserID: userID})
}

type staticWindow domain.PrayerWindow

func (w staticWindow) Current() domain.PrayerWindow { return domain.PrayerWindow(w) }

type recordingPresenter struct {
	mu    sync.Mutex
	calls []domain.Candidate
	deny  bool
}

func (r *recordingPresenter) PresentImmediate(ctx context.Context, userID string, c domain.Candidate, p domain.ResolvedPreferences) *domain.PresentedNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	if r.deny {
		return nil
	}
	return &domain.PresentedNotification{Title: c.Title, Tag: string(c.Channel)}
}

func (r *recordingPresenter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []*domain.QueuedNotification
	fail      map[string]bool // by user id
}

func (r *recordingDeliverer) DeliverQueued(ctx context.Context, n *domain.QueuedNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[n.UserID] {
		return errors.New("push service unavailable")
	}
	r.delivered = append(r.delivered, n)
	return nil
}
