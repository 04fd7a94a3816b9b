package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

// RedisSurface fans presentations out over redis pub/sub so every instance
// can reach the user's open streams
type RedisSurface struct {
	client *goredis.Client
	prefix string
	log    *logger.Logger
}

// NewRedisSurface creates a surface publishing on "<prefix>:<user id>"
func NewRedisSurface(client *goredis.Client, prefix string, log *logger.Logger) *RedisSurface {
	if prefix == "" {
		prefix = "notifications:present"
	}
	return &RedisSurface{client: client, prefix: prefix, log: log}
}

func (s *RedisSurface) channel(userID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, userID)
}

// Present publishes n to the user's channel
func (s *RedisSurface) Present(ctx context.Context, userID string, n domain.PresentedNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode presentation: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel(userID), body).Err(); err != nil {
		return fmt.Errorf("publish presentation: %w", err)
	}
	return nil
}

// Subscribe streams presentations for userID until ctx is done. The
// returned channel is closed when the subscription ends.
func (s *RedisSurface) Subscribe(ctx context.Context, userID string) (<-chan domain.PresentedNotification, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe presentations: %w", err)
	}

	out := make(chan domain.PresentedNotification, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var n domain.PresentedNotification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					s.log.Warn("Dropping malformed presentation", "user_id", userID, "error", err)
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
