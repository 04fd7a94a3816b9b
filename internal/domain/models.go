package domain

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned by stores when a record does not exist
var ErrNotFound = errors.New("not found")

// Channel identifies the kind of activity a notification is about
type Channel string

const (
	ChannelDirectMessage Channel = "dm"
	ChannelGroup         Channel = "group"
	ChannelMention       Channel = "mention"
	ChannelEvent         Channel = "event"
	ChannelPrayer        Channel = "prayer"
)

// Channels lists every known channel
var Channels = []Channel{ChannelDirectMessage, ChannelGroup, ChannelMention, ChannelEvent, ChannelPrayer}

// Valid reports whether c is a known channel
func (c Channel) Valid() bool {
	switch c {
	case ChannelDirectMessage, ChannelGroup, ChannelMention, ChannelEvent, ChannelPrayer:
		return true
	}
	return false
}

// Priority orders notifications from 1 (normal) to 4 (urgent)
type Priority int

const (
	PriorityNormal Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

// IsUrgent reports whether p is at the urgent level
func (p Priority) IsUrgent() bool {
	return p >= PriorityUrgent
}

// Candidate is a notification a producer would like a user to see
type Candidate struct {
	Channel  Channel        `json:"channel"`
	Priority Priority       `json:"priority"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Normalize fills the default priority and an empty metadata map
func (c *Candidate) Normalize() {
	if c.Priority == 0 {
		c.Priority = PriorityNormal
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
}

// Validate checks the channel and priority range
func (c Candidate) Validate() error {
	if !c.Channel.Valid() {
		return fmt.Errorf("unknown channel %q", c.Channel)
	}
	if c.Priority < PriorityNormal || c.Priority > PriorityUrgent {
		return fmt.Errorf("priority %d out of range 1-4", c.Priority)
	}
	if c.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// QueuedNotification is the durable record of a candidate accepted for a user
type QueuedNotification struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID      string             `json:"user_id" bson:"user_id"`
	Channel     Channel            `json:"channel" bson:"channel"`
	Title       string             `json:"title" bson:"title"`
	Body        string             `json:"body" bson:"body"`
	Metadata    map[string]any     `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Priority    Priority           `json:"priority" bson:"priority"`
	ScheduledAt time.Time          `json:"scheduled_at" bson:"scheduled_at"`
	Deliverable bool               `json:"deliverable" bson:"deliverable"`
	Reason      string             `json:"reason,omitempty" bson:"reason,omitempty"`
	Bundled     bool               `json:"bundled" bson:"bundled"`
	BundleID    string             `json:"bundle_id,omitempty" bson:"bundle_id,omitempty"`
	Sent        bool               `json:"sent" bson:"sent"`
	SentAt      *time.Time         `json:"sent_at,omitempty" bson:"sent_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at" bson:"created_at"`
}

// Permission is the client's OS/browser notification permission state
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// PushKeys are the client's web push encryption keys
type PushKeys struct {
	P256dh string `json:"p256dh" bson:"p256dh"`
	Auth   string `json:"auth" bson:"auth"`
}

// PushSubscription is a device's registration with a platform push service
type PushSubscription struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID     string             `json:"user_id" bson:"user_id"`
	Endpoint   string             `json:"endpoint" bson:"endpoint"`
	Keys       PushKeys           `json:"keys" bson:"keys"`
	DeviceInfo map[string]string  `json:"device_info,omitempty" bson:"device_info,omitempty"`
	Active     bool               `json:"active" bson:"active"`
	LastUsedAt *time.Time         `json:"last_used_at,omitempty" bson:"last_used_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at" bson:"updated_at"`
}

// PresentedNotification is what a client surface renders
type PresentedNotification struct {
	QueueID            string         `json:"queue_id,omitempty"`
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon"`
	Badge              string         `json:"badge"`
	Tag                string         `json:"tag"`
	Sound              bool           `json:"sound"`
	RequireInteraction bool           `json:"require_interaction"`
	Data               map[string]any `json:"data,omitempty"`
}
