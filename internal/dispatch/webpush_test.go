package dispatch

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
)

func testSubscription(t *testing.T, endpoint string) *domain.PushSubscription {
	t.Helper()

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	return &domain.PushSubscription{
		UserID:   "u1",
		Endpoint: endpoint,
		Keys: domain.PushKeys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
}

// TestWebPushSender tests status code mapping against a fake push service
func TestWebPushSender(t *testing.T) {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	tests := []struct {
		name       string
		status     int
		wantErr    bool
		wantGone   bool
		urgent     bool
		wantUrgent string
	}{
		{name: "created", status: http.StatusCreated, wantUrgent: "normal"},
		{name: "urgent", status: http.StatusCreated, urgent: true, wantUrgent: "high"},
		{name: "gone", status: http.StatusGone, wantErr: true, wantGone: true, wantUrgent: "normal"},
		{name: "not found", status: http.StatusNotFound, wantErr: true, wantGone: true, wantUrgent: "normal"},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true, wantUrgent: "normal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUrgency, gotTTL string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUrgency = r.Header.Get("Urgency")
				gotTTL = r.Header.Get("TTL")
				assert.NotEmpty(t, r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			sender := NewWebPushSender(WebPushConfig{
				PublicKey:  publicKey,
				PrivateKey: privateKey,
				Subscriber: "mailto:ops@example.com",
				TTL:        2 * time.Minute,
			}, server.Client())

			err := sender.Send(context.Background(), testSubscription(t, server.URL+"/push/abc"), []byte(`{"title":"t"}`), tt.urgent)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantGone, err == ErrSubscriptionGone)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantUrgent, gotUrgency)
			assert.Equal(t, "120", gotTTL)
		})
	}
}
