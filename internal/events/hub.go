package events

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/procx/backend/internal/pipeline"
	"github.com/procx/backend/pkg/logger"
)

const subscriberBuffer = 64

// Hub fans scan events out to websocket subscribers. Publish never blocks the
// pipeline: a subscriber that cannot keep up drops events.
type Hub struct {
	mu          sync.Mutex
	subscribers map[chan pipeline.ScanEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan pipeline.ScanEvent]struct{})}
}

func (h *Hub) Publish(event pipeline.ScanEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *Hub) Subscribe() chan pipeline.ScanEvent {
	ch := make(chan pipeline.ScanEvent, subscriberBuffer)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	return ch
}

func (h *Hub) Unsubscribe(ch chan pipeline.ScanEvent) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}

// ServeConn streams events to one websocket connection until the peer goes
// away.
func (h *Hub) ServeConn(c *websocket.Conn) {
	logger.Info("Event stream subscriber connected")

	ch := h.Subscribe()
	defer func() {
		h.Unsubscribe(ch)
		c.Close()
		logger.Info("Event stream subscriber disconnected")
	}()

	// Drain reads so close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event := <-ch:
			if err := c.WriteJSON(event); err != nil {
				logger.Debug("Failed to write scan event", zap.Error(err))
				return
			}
		}
	}
}
