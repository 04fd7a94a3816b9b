package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
)

// WebPushConfig holds VAPID credentials
type WebPushConfig struct {
	PublicKey  string
	PrivateKey string
	Subscriber string
	TTL        time.Duration
}

// WebPushSender delivers payloads through the subscription's push service
type WebPushSender struct {
	cfg        WebPushConfig
	httpClient webpush.HTTPClient
}

// NewWebPushSender creates a sender. A nil client uses a 10s timeout client.
func NewWebPushSender(cfg WebPushConfig, client webpush.HTTPClient) *WebPushSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &WebPushSender{cfg: cfg, httpClient: client}
}

// Send encrypts and posts payload. 404 and 410 map to ErrSubscriptionGone.
func (s *WebPushSender) Send(ctx context.Context, sub *domain.PushSubscription, payload []byte, urgent bool) error {
	urgency := webpush.UrgencyNormal
	if urgent {
		urgency = webpush.UrgencyHigh
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      s.cfg.Subscriber,
		TTL:             int(s.cfg.TTL.Seconds()),
		Urgency:         urgency,
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
	})
	if err != nil {
		return fmt.Errorf("web push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return ErrSubscriptionGone
	case resp.StatusCode >= 300:
		return fmt.Errorf("web push: push service returned status %d", resp.StatusCode)
	}
	return nil
}
