package boardserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"github.com/todo-1m/board/internal/contracts"
	"github.com/todo-1m/board/internal/platform/auth"
)

const subscriberBuffer = 64

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (contracts.User, error)
}

// Hub fans events out to every connected push client. A client whose buffer
// is full misses the event and is expected to refetch on reconnect.
type Hub struct {
	Log          logrus.FieldLogger
	WriteTimeout time.Duration

	mu          sync.RWMutex
	nextID      uint64
	subscribers map[string]chan contracts.Event
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		Log:          log,
		WriteTimeout: 5 * time.Second,
		subscribers:  map[string]chan contracts.Event{},
	}
}

func (h *Hub) Subscribe() (<-chan contracts.Event, func()) {
	ch := make(chan contracts.Event, subscriberBuffer)

	h.mu.Lock()
	h.nextID++
	id := fmt.Sprintf("client-%d", h.nextID)
	h.subscribers[id] = ch
	h.mu.Unlock()
	pushClients.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, id)
			h.mu.Unlock()
			pushClients.Dec()
		})
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Broadcast never blocks the caller.
func (h *Hub) Broadcast(ev contracts.Event) {
	h.mu.RLock()
	subs := make([]chan contracts.Event, 0, len(h.subscribers))
	for _, ch := range h.subscribers {
		subs = append(subs, ch)
	}
	h.mu.RUnlock()

	broadcasts.WithLabelValues(ev.Event).Inc()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			droppedEvents.WithLabelValues(ev.Event).Inc()
		}
	}
}

// ServeWS upgrades an authenticated request and streams events as JSON text
// frames until either side goes away.
func (h *Hub) ServeWS(users Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "token is required")
			return
		}
		user, err := users.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
		if err != nil {
			h.Log.WithError(err).Warn("websocket accept failed")
			return
		}
		defer conn.CloseNow()

		events, unsubscribe := h.Subscribe()
		defer unsubscribe()

		// Clients never send; CloseRead handles control frames and cancels
		// ctx when the peer disconnects.
		ctx := conn.CloseRead(r.Context())
		log := h.Log.WithField("user", user.Email)
		log.Info("push client connected")

		for {
			select {
			case <-ctx.Done():
				log.Info("push client disconnected")
				return
			case ev := <-events:
				writeCtx, cancel := context.WithTimeout(ctx, h.WriteTimeout)
				err := wsjson.Write(writeCtx, conn, ev)
				cancel()
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						log.WithError(err).Warn("push write failed")
					}
					conn.Close(websocket.StatusGoingAway, "write failed")
					return
				}
			}
		}
	}
}
