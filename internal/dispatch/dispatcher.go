// Package dispatch presents notifications to users: in-app through a Surface
// and on devices through web push subscriptions.
package dispatch

import (
	"context"
	"errors"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/metrics"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

// ErrNotDelivered means no surface or device accepted the notification
var ErrNotDelivered = errors.New("notification not delivered")

// Surface renders notifications in the user's connected clients
type Surface interface {
	Present(ctx context.Context, userID string, n domain.PresentedNotification) error
}

// PermissionSource reports a user's notification permission state
type PermissionSource interface {
	Permission(ctx context.Context, userID string) domain.Permission
}

// DeviceSender pushes a notification to the user's registered devices and
// reports how many accepted it
type DeviceSender interface {
	Deliver(ctx context.Context, userID string, n domain.PresentedNotification) (int, error)
}

// PreferencesResolver supplies resolved preferences for queued deliveries
type PreferencesResolver interface {
	Resolve(ctx context.Context, userID string) domain.ResolvedPreferences
}

// Options configures presentation assets
type Options struct {
	Icon  string
	Badge string
}

// Dispatcher renders and emits notifications
type Dispatcher struct {
	surface     Surface
	permissions PermissionSource
	devices     DeviceSender
	preferences PreferencesResolver
	opts        Options
	log         *logger.Logger
}

// NewDispatcher creates a dispatcher. devices may be nil when web push is not configured.
func NewDispatcher(surface Surface, permissions PermissionSource, devices DeviceSender, preferences PreferencesResolver, opts Options, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		surface:     surface,
		permissions: permissions,
		devices:     devices,
		preferences: preferences,
		opts:        opts,
		log:         log,
	}
}

// Render builds the display object for c
func (d *Dispatcher) Render(c domain.Candidate, p domain.ResolvedPreferences) domain.PresentedNotification {
	return domain.PresentedNotification{
		Title:              c.Title,
		Body:               c.Body,
		Icon:               d.opts.Icon,
		Badge:              d.opts.Badge,
		Tag:                string(c.Channel),
		Sound:              p.SoundEnabled(c.Channel),
		RequireInteraction: c.Priority.IsUrgent(),
		Data:               c.Metadata,
	}
}

// PresentImmediate shows c right away. Callers must already have decided the
// candidate should be delivered. It returns nil unless permission is granted
// and at least one surface accepted the notification.
func (d *Dispatcher) PresentImmediate(ctx context.Context, userID string, c domain.Candidate, p domain.ResolvedPreferences) *domain.PresentedNotification {
	if userID == "" {
		return nil
	}

	permission := d.permissions.Permission(ctx, userID)
	if permission != domain.PermissionGranted {
		d.log.Debug("Skipping immediate presentation", "user_id", userID, "permission", permission)
		metrics.ImmediateDispatches.WithLabelValues(string(c.Channel), "no_permission").Inc()
		return nil
	}

	presented := d.Render(c, p)
	if err := d.emit(ctx, userID, presented); err != nil {
		d.log.Error("Immediate presentation failed", "user_id", userID, "channel", c.Channel, "error", err)
		metrics.ImmediateDispatches.WithLabelValues(string(c.Channel), "failed").Inc()
		return nil
	}

	metrics.ImmediateDispatches.WithLabelValues(string(c.Channel), "presented").Inc()
	return &presented
}

// DeliverQueued presents a queued row on behalf of the drain worker
func (d *Dispatcher) DeliverQueued(ctx context.Context, n *domain.QueuedNotification) error {
	p := d.preferences.Resolve(ctx, n.UserID)
	presented := d.Render(domain.Candidate{
		Channel:  n.Channel,
		Priority: n.Priority,
		Title:    n.Title,
		Body:     n.Body,
		Metadata: n.Metadata,
	}, p)
	presented.QueueID = n.ID.Hex()

	return d.emit(ctx, n.UserID, presented)
}

// emit succeeds when either the surface or at least one device took the notification
func (d *Dispatcher) emit(ctx context.Context, userID string, n domain.PresentedNotification) error {
	surfaceErr := d.surface.Present(ctx, userID, n)
	if surfaceErr != nil {
		d.log.Warn("Surface rejected notification", "user_id", userID, "error", surfaceErr)
	}

	delivered := 0
	var deviceErr error
	if d.devices != nil {
		delivered, deviceErr = d.devices.Deliver(ctx, userID, n)
		if deviceErr != nil {
			d.log.Warn("Device push failed", "user_id", userID, "error", deviceErr)
		}
	}

	if surfaceErr != nil && delivered == 0 {
		return errors.Join(ErrNotDelivered, surfaceErr, deviceErr)
	}
	return nil
}
