// Package feed is the change feed for queued notifications. Producers publish
// row changes, and listeners subscribe per user without knowing the transport.
package feed

import (
	"sync"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
)

// Op is the kind of row change
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change describes one queued notification change. Notification is nil for
// bulk updates, in which case listeners should refetch.
type Change struct {
	Op           Op                         `json:"op"`
	UserID       string                     `json:"user_id"`
	Notification *domain.QueuedNotification `json:"notification,omitempty"`
}

// Handler receives changes. It runs on the publisher's goroutine and must not block.
type Handler func(Change)

// Unsubscribe removes a listener. Calling it more than once is safe.
type Unsubscribe func()

// Subscription lets callers listen to one user's changes. An empty user id
// listens to every user.
type Subscription interface {
	OnInsert(userID string, fn Handler) Unsubscribe
	OnUpdate(userID string, fn Handler) Unsubscribe
	OnDelete(userID string, fn Handler) Unsubscribe
}

// Publisher accepts changes from producers
type Publisher interface {
	Publish(c Change)
}

type listenerKey struct {
	op     Op
	userID string
}

// Hub is an in-memory Subscription and Publisher. Each application owns its
// own Hub; there is no package-level instance.
type Hub struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[listenerKey]map[uint64]Handler
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{listeners: make(map[listenerKey]map[uint64]Handler)}
}

// OnInsert listens to inserts for userID
func (h *Hub) OnInsert(userID string, fn Handler) Unsubscribe {
	return h.add(listenerKey{op: OpInsert, userID: userID}, fn)
}

// OnUpdate listens to updates for userID
func (h *Hub) OnUpdate(userID string, fn Handler) Unsubscribe {
	return h.add(listenerKey{op: OpUpdate, userID: userID}, fn)
}

// OnDelete listens to deletes for userID
func (h *Hub) OnDelete(userID string, fn Handler) Unsubscribe {
	return h.add(listenerKey{op: OpDelete, userID: userID}, fn)
}

func (h *Hub) add(key listenerKey, fn Handler) Unsubscribe {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if h.listeners[key] == nil {
		h.listeners[key] = make(map[uint64]Handler)
	}
	h.listeners[key][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.listeners[key], id)
			if len(h.listeners[key]) == 0 {
				delete(h.listeners, key)
			}
		})
	}
}

// Publish delivers c to the user's listeners and to wildcard listeners
func (h *Hub) Publish(c Change) {
	h.mu.RLock()
	var targets []Handler
	for _, fn := range h.listeners[listenerKey{op: c.Op, userID: c.UserID}] {
		targets = append(targets, fn)
	}
	if c.UserID != "" {
		for _, fn := range h.listeners[listenerKey{op: c.Op}] {
			targets = append(targets, fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range targets {
		fn(c)
	}
}

// Listeners returns the number of registered listeners
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.listeners {
		n += len(set)
	}
	return n
}

// Discard is a Publisher that drops every change
type Discard struct{}

// Publish does nothing
func (Discard) Publish(Change) {}
