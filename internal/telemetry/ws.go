package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// subscriberBuffer is the number of events queued per subscriber before
// the hub starts dropping events for that connection.
const subscriberBuffer = 64

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub broadcasts control-plane events to WebSocket subscribers. Slow
// subscribers lose events rather than slowing down the control plane.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	log         *zap.Logger
}

type subscriber struct {
	conn *websocket.Conn
	send chan Event
}

// NewHub creates an empty Hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		log:         log.Named("telemetry.hub"),
	}
}

// Emit implements Emitter by broadcasting the event to every subscriber.
func (h *Hub) Emit(name string, payload map[string]any) {
	ev := NewEvent(name, payload)

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.send <- ev:
		default:
			// Subscriber buffer full; drop the event for this consumer.
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// HandleWebSocket returns an HTTP handler that upgrades connections and
// streams events until the client disconnects.
func (h *Hub) HandleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		sub := &subscriber{
			conn: conn,
			send: make(chan Event, subscriberBuffer),
		}
		h.add(sub)
		defer h.remove(sub)

		go h.writePump(sub)

		// Inbound messages are ignored, but the read loop is required to
		// observe close frames. A limiter guards against clients that
		// spam frames at the hub.
		limiter := NewLimiter(60, time.Minute)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Debug("websocket read error", zap.Error(err))
				}
				return
			}
			if !limiter.Allow() {
				h.log.Warn("subscriber exceeded message rate, disconnecting",
					zap.String("remote", conn.RemoteAddr().String()))
				return
			}
		}
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
	sub.conn.Close()
}

// writePump serializes queued events onto the subscriber's connection.
func (h *Hub) writePump(sub *subscriber) {
	for ev := range sub.send {
		if err := sub.conn.WriteJSON(ev); err != nil {
			h.log.Debug("websocket write error", zap.Error(err))
			sub.conn.Close()
			return
		}
	}
}
