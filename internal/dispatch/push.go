package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/metrics"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

// ErrPermissionNotGranted is returned by Enable when the user declined
var ErrPermissionNotGranted = errors.New("notification permission not granted")

// ErrNoHandle means the platform has no push subscription for the device
var ErrNoHandle = errors.New("platform returned no push subscription")

// ErrSubscriptionGone means the push service no longer knows the endpoint
var ErrSubscriptionGone = errors.New("push subscription expired")

// Handle is what a platform push service returns for a device
type Handle struct {
	Endpoint string
	Keys     domain.PushKeys
}

// Platform is the device-side push service
type Platform interface {
	Permission(ctx context.Context) domain.Permission
	RequestPermission(ctx context.Context) (domain.Permission, error)
	Subscribe(ctx context.Context, applicationKey string) (*Handle, error)
	// Current returns nil when the device has no subscription
	Current(ctx context.Context) (*Handle, error)
	Unsubscribe(ctx context.Context) error
	// Previous returns the endpoint the device last registered, even after
	// the platform dropped it, or "" when the device never subscribed
	Previous(ctx context.Context) string
	DeviceInfo() map[string]string
}

// SubscriptionRepository persists push subscriptions
type SubscriptionRepository interface {
	Upsert(ctx context.Context, sub *domain.PushSubscription) (*domain.PushSubscription, error)
	FindActiveByUser(ctx context.Context, userID string) ([]*domain.PushSubscription, error)
	FindByEndpoint(ctx context.Context, userID, endpoint string) (*domain.PushSubscription, error)
	Deactivate(ctx context.Context, userID, endpoint string) (int64, error)
	Touch(ctx context.Context, userID, endpoint string, at time.Time) error
}

// Sender transmits an encrypted payload to one subscription
type Sender interface {
	Send(ctx context.Context, sub *domain.PushSubscription, payload []byte, urgent bool) error
}

// PushService manages the push subscription lifecycle:
// unsubscribed -> active (Enable) -> inactive (Disable, or expiry found by Check or Deliver)
type PushService struct {
	repo           SubscriptionRepository
	sender         Sender
	applicationKey string
	log            *logger.Logger
}

// NewPushService creates a push service. sender may be nil when VAPID keys are absent.
func NewPushService(repo SubscriptionRepository, sender Sender, applicationKey string, log *logger.Logger) *PushService {
	return &PushService{repo: repo, sender: sender, applicationKey: applicationKey, log: log}
}

// ApplicationKey returns the VAPID public key clients subscribe with
func (s *PushService) ApplicationKey() string {
	return s.applicationKey
}

// Enable requests permission, obtains a device subscription and stores it as active
func (s *PushService) Enable(ctx context.Context, userID string, platform Platform) (*domain.PushSubscription, error) {
	if userID == "" {
		return nil, fmt.Errorf("enable push: no user")
	}

	permission, err := platform.RequestPermission(ctx)
	if err != nil {
		return nil, fmt.Errorf("enable push: request permission: %w", err)
	}
	if permission != domain.PermissionGranted {
		return nil, ErrPermissionNotGranted
	}

	handle, err := platform.Subscribe(ctx, s.applicationKey)
	if err != nil {
		return nil, fmt.Errorf("enable push: subscribe: %w", err)
	}
	if handle == nil || handle.Endpoint == "" || handle.Keys.P256dh == "" || handle.Keys.Auth == "" {
		return nil, ErrNoHandle
	}

	sub, err := s.repo.Upsert(ctx, &domain.PushSubscription{
		UserID:     userID,
		Endpoint:   handle.Endpoint,
		Keys:       handle.Keys,
		DeviceInfo: platform.DeviceInfo(),
		Active:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("enable push: store subscription: %w", err)
	}

	metrics.PushSubscriptionChanges.WithLabelValues("enabled").Inc()
	s.log.Info("Push subscription enabled", "user_id", userID, "endpoint", handle.Endpoint)
	return sub, nil
}

// Disable unsubscribes the device and marks its stored record inactive.
// When the device knows no endpoint at all every subscription of the user
// is deactivated.
func (s *PushService) Disable(ctx context.Context, userID string, platform Platform) error {
	handle, err := platform.Current(ctx)
	if err != nil {
		return fmt.Errorf("disable push: %w", err)
	}
	if err := platform.Unsubscribe(ctx); err != nil {
		return fmt.Errorf("disable push: unsubscribe: %w", err)
	}

	endpoint := deviceEndpoint(ctx, platform, handle)
	n, err := s.repo.Deactivate(ctx, userID, endpoint)
	if err != nil {
		return fmt.Errorf("disable push: deactivate: %w", err)
	}

	metrics.PushSubscriptionChanges.WithLabelValues("disabled").Add(float64(n))
	s.log.Info("Push subscription disabled", "user_id", userID, "endpoint", endpoint, "deactivated", n)
	return nil
}

// Check reconciles the stored record of this device only. When the device
// lost its subscription or its permission, the endpoint it reports is marked
// inactive; the user's other devices are left alone.
func (s *PushService) Check(ctx context.Context, userID string, platform Platform) (domain.PushStatus, error) {
	status := domain.PushStatus{Permission: platform.Permission(ctx)}

	handle, err := platform.Current(ctx)
	if err != nil {
		return status, fmt.Errorf("check push: %w", err)
	}

	if handle == nil || handle.Endpoint == "" || status.Permission != domain.PermissionGranted {
		endpoint := deviceEndpoint(ctx, platform, handle)
		if endpoint == "" {
			// Never subscribed from this device
			return status, nil
		}
		n, err := s.repo.Deactivate(ctx, userID, endpoint)
		if err != nil {
			return status, fmt.Errorf("check push: deactivate: %w", err)
		}
		if n > 0 {
			metrics.PushSubscriptionChanges.WithLabelValues("expired").Add(float64(n))
			s.log.Info("Reconciled stale push subscription", "user_id", userID, "endpoint", endpoint)
		}
		return status, nil
	}

	sub, err := s.repo.FindByEndpoint(ctx, userID, handle.Endpoint)
	if errors.Is(err, domain.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return status, fmt.Errorf("check push: %w", err)
	}

	status.Subscribed = sub.Active
	status.Endpoint = sub.Endpoint
	return status, nil
}

// deviceEndpoint is the endpoint the device currently holds, else the one it
// last registered
func deviceEndpoint(ctx context.Context, platform Platform, handle *Handle) string {
	if handle != nil && handle.Endpoint != "" {
		return handle.Endpoint
	}
	return platform.Previous(ctx)
}

// Permission is granted when the user has at least one active device
func (s *PushService) Permission(ctx context.Context, userID string) domain.Permission {
	subs, err := s.repo.FindActiveByUser(ctx, userID)
	if err != nil {
		s.log.Error("Failed to load push subscriptions", "user_id", userID, "error", err)
		return domain.PermissionDefault
	}
	if len(subs) == 0 {
		return domain.PermissionDefault
	}
	return domain.PermissionGranted
}

// Deliver sends n to every active device of the user. Devices whose push
// service reports the subscription gone are deactivated.
func (s *PushService) Deliver(ctx context.Context, userID string, n domain.PresentedNotification) (int, error) {
	if s.sender == nil {
		return 0, nil
	}

	subs, err := s.repo.FindActiveByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return 0, fmt.Errorf("encode push payload: %w", err)
	}

	delivered := 0
	var errs []error
	for _, sub := range subs {
		err := s.sender.Send(ctx, sub, payload, n.RequireInteraction)
		switch {
		case err == nil:
			delivered++
			if err := s.repo.Touch(ctx, userID, sub.Endpoint, time.Now()); err != nil {
				s.log.Warn("Failed to record push delivery", "user_id", userID, "error", err)
			}
		case errors.Is(err, ErrSubscriptionGone):
			if _, err := s.repo.Deactivate(ctx, userID, sub.Endpoint); err != nil {
				s.log.Error("Failed to deactivate expired subscription", "user_id", userID, "error", err)
			}
			metrics.PushSubscriptionChanges.WithLabelValues("expired").Inc()
			s.log.Info("Push subscription expired", "user_id", userID, "endpoint", sub.Endpoint)
		default:
			errs = append(errs, err)
		}
	}

	if delivered == 0 && len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return delivered, nil
}

// ClientPlatform is a Platform backed by what the client reported in its
// request: the browser already asked for permission and subscribed.
type ClientPlatform struct {
	permission domain.Permission
	handle     *Handle
	previous   string
	deviceInfo map[string]string
}

// NewClientPlatform builds a platform from a client request
func NewClientPlatform(req domain.PushSubscriptionRequest, userAgent string) *ClientPlatform {
	p := &ClientPlatform{permission: req.Permission, previous: req.PreviousEndpoint, deviceInfo: map[string]string{}}
	if p.permission == "" {
		p.permission = domain.PermissionDefault
		if req.Endpoint != "" {
			p.permission = domain.PermissionGranted
		}
	}
	if req.Endpoint != "" {
		p.handle = &Handle{Endpoint: req.Endpoint, Keys: req.Keys}
	}
	for k, v := range req.DeviceInfo {
		p.deviceInfo[k] = v
	}
	if userAgent != "" {
		p.deviceInfo["user_agent"] = userAgent
	}
	return p
}

// Permission returns the reported permission
func (p *ClientPlatform) Permission(ctx context.Context) domain.Permission {
	return p.permission
}

// RequestPermission returns the permission the client obtained
func (p *ClientPlatform) RequestPermission(ctx context.Context) (domain.Permission, error) {
	return p.permission, nil
}

// Subscribe returns the client's subscription handle
func (p *ClientPlatform) Subscribe(ctx context.Context, applicationKey string) (*Handle, error) {
	if p.handle == nil {
		return nil, ErrNoHandle
	}
	return p.handle, nil
}

// Current returns the client's subscription handle, if any
func (p *ClientPlatform) Current(ctx context.Context) (*Handle, error) {
	return p.handle, nil
}

// Unsubscribe is a no-op; the client unsubscribes before calling the API
func (p *ClientPlatform) Unsubscribe(ctx context.Context) error {
	return nil
}

// Previous returns the endpoint the client says it registered before
func (p *ClientPlatform) Previous(ctx context.Context) string {
	return p.previous
}

// DeviceInfo returns the reported device details
func (p *ClientPlatform) DeviceInfo() map[string]string {
	return p.deviceInfo
}
