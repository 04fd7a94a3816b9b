package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/feed"
	"github.com/vhvplatform/go-smart-notification-service/internal/metrics"
	"github.com/vhvplatform/go-smart-notification-service/internal/middleware"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	changeBuf  = 64
)

// PresentationSource streams a user's immediate presentations
type PresentationSource interface {
	Subscribe(ctx context.Context, userID string) (<-chan domain.PresentedNotification, error)
}

// StreamMessage is one frame sent to the client
type StreamMessage struct {
	Type         string                        `json:"type"`
	Op           feed.Op                       `json:"op,omitempty"`
	Notification *domain.PresentedNotification `json:"notification,omitempty"`
	Row          *domain.QueuedNotification    `json:"row,omitempty"`
}

// StreamHandler pushes presentations and inbox changes over a websocket
type StreamHandler struct {
	presentations PresentationSource
	changes       feed.Subscription
	upgrader      websocket.Upgrader
	log           *logger.Logger
}

// NewStreamHandler creates a stream handler. presentations may be nil.
func NewStreamHandler(presentations PresentationSource, changes feed.Subscription, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		presentations: presentations,
		changes:       changes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Callers are authenticated by token, not by cookie
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Stream upgrades the request and relays events until the client leaves
func (h *StreamHandler) Stream(c *gin.Context) {
	userID := middleware.UserID(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	defer conn.Close()

	metrics.StreamConnections.Inc()
	defer metrics.StreamConnections.Dec()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var presented <-chan domain.PresentedNotification
	if h.presentations != nil {
		presented, err = h.presentations.Subscribe(ctx, userID)
		if err != nil {
			h.log.Warn("Presentation stream unavailable", "user_id", userID, "error", err)
		}
	}

	changes := make(chan feed.Change, changeBuf)
	relay := func(ch feed.Change) {
		select {
		case changes <- ch:
		default:
			// Slow client; it refetches on the next change it does receive
		}
	}
	for _, unsubscribe := range []feed.Unsubscribe{
		h.changes.OnInsert(userID, relay),
		h.changes.OnUpdate(userID, relay),
		h.changes.OnDelete("", relay),
	} {
		defer unsubscribe()
	}

	go h.readPump(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	h.log.Debug("Stream opened", "user_id", userID)
	for {
		var msg *StreamMessage
		select {
		case <-ctx.Done():
			return
		case n, ok := <-presented:
			if !ok {
				presented = nil
				continue
			}
			msg = &StreamMessage{Type: "notification", Notification: &n}
		case ch := <-changes:
			if ch.Op == feed.OpDelete && ch.UserID != "" && ch.UserID != userID {
				continue
			}
			msg = &StreamMessage{Type: "change", Op: ch.Op, Row: ch.Notification}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			h.log.Debug("Stream closed", "user_id", userID, "error", err)
			return
		}
	}
}

// readPump drains client frames so pongs and close frames are processed
func (h *StreamHandler) readPump(conn *websocket.Conn, done context.CancelFunc) {
	defer done()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
