package domain

import (
	"fmt"
	"time"
)

// EventType is the routing type of an upstream community event
type EventType string

const (
	EventDirectMessage EventType = "message.direct"
	EventGroupMessage  EventType = "message.group"
	EventMention       EventType = "message.mention"
	EventUpdated       EventType = "event.updated"
	EventPrayer        EventType = "prayer.reminder"
)

// Channel maps the event type to the notification channel it produces
func (t EventType) Channel() (Channel, bool) {
	switch t {
	case EventDirectMessage:
		return ChannelDirectMessage, true
	case EventGroupMessage:
		return ChannelGroup, true
	case EventMention:
		return ChannelMention, true
	case EventUpdated:
		return ChannelEvent, true
	case EventPrayer:
		return ChannelPrayer, true
	}
	return "", false
}

// CommunityEvent is produced by the chat, events and prayer services
type CommunityEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	SenderID   string         `json:"sender_id,omitempty"`
	Recipients []string       `json:"recipients"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Priority   Priority       `json:"priority,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Validate rejects events that cannot produce any candidate
func (e CommunityEvent) Validate() error {
	if _, ok := e.Type.Channel(); !ok {
		return fmt.Errorf("unsupported event type %q", e.Type)
	}
	if len(e.Recipients) == 0 {
		return fmt.Errorf("event %s has no recipients", e.ID)
	}
	if e.Title == "" {
		return fmt.Errorf("event %s has no title", e.ID)
	}
	return nil
}

// CandidateFor builds the candidate an event produces for every recipient
func (e CommunityEvent) CandidateFor() Candidate {
	ch, _ := e.Type.Channel()
	c := Candidate{
		Channel:  ch,
		Priority: e.Priority,
		Title:    e.Title,
		Body:     e.Body,
		Metadata: map[string]any{},
	}
	for k, v := range e.Metadata {
		c.Metadata[k] = v
	}
	if e.ID != "" {
		c.Metadata["event_id"] = e.ID
	}
	if e.SenderID != "" {
		c.Metadata["sender_id"] = e.SenderID
	}
	c.Normalize()
	return c
}
