package alerting

import (
	"context"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/pkg/logger"
)

// Hub fans alerts out to connected websocket clients. A client that cannot
// keep up is disconnected rather than slowing the others.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// HandleConnection owns a client connection for its lifetime. It is meant to
// be wrapped by websocket.New in the route setup.
func (h *Hub) HandleConnection(c *websocket.Conn) {
	logger.Info("Alert subscriber connected")

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.Close()
		logger.Info("Alert subscriber disconnected")
	}()

	// Clients only listen; reads just detect disconnects.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}

// Notify broadcasts the alert to every connected subscriber.
func (h *Hub) Notify(ctx context.Context, alert Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if err := c.WriteJSON(alert); err != nil {
			logger.Warn("Dropping slow alert subscriber", zap.Error(err))
			c.Close()
			delete(h.clients, c)
		}
	}
	return nil
}

// SubscriberCount reports how many websocket clients are attached.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
