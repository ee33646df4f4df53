package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"algotrader/internal/logger"
	"algotrader/internal/types"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 32
)

// Hub broadcasts committed state-change events to every connected
// observer. Delivery is fire-and-forget: at most once per observer per
// event, no acknowledgment, no replay for observers that were offline.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	upgrader   websocket.Upgrader
}

func NewHub(checkOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Run drives the hub's event loop until ctx is cancelled. Observers
// whose send buffer is full are dropped rather than allowed to stall
// the broadcast.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Closing done releases handler goroutines parked on the
			// register and unregister channels.
			close(h.done)
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			logger.Debugf("fanout: observer connected (%d total)", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
					logger.Warnf("fanout: dropped slow observer")
				}
			}
		}
	}
}

// Publish implements types.Publisher. A full broadcast queue drops the
// event instead of blocking the committing operation.
func (h *Hub) Publish(event types.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Errorf("fanout: marshal %s event failed: %v", event.Name, err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		logger.Warnf("fanout: broadcast queue full, %s event dropped", event.Name)
	}
}

// ServeWS upgrades the request and registers the connection as an
// observer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return errors.New("fanout: hub stopped")
	}
	go c.writePump()
	go c.readPump()
	return nil
}
