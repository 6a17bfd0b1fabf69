package observer

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Subscriber is one websocket listener on the event feed.
type Subscriber struct {
	ID     uuid.UUID
	Events chan []byte
	Done   chan struct{}
}

// Hub fans consumed events out to websocket subscribers. Slow subscribers
// drop events rather than stall the feed.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]*Subscriber
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[uuid.UUID]*Subscriber)}
}

// Subscribe registers a new listener.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:     uuid.New(),
		Events: make(chan []byte, 64),
		Done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a listener and wakes its writer.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscribers[id]; ok {
		close(sub.Done)
		delete(h.subscribers, id)
	}
}

// Broadcast delivers an event to every subscriber that can take it.
func (h *Hub) Broadcast(event []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		select {
		case sub.Events <- event:
		case <-sub.Done:
		default:
			// Full buffer; the subscriber misses this event.
		}
	}
}

// SubscriberCount returns the number of live listeners.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// ServeWS pumps events over one websocket connection until the client
// disconnects or ctx is cancelled.
func (h *Hub) ServeWS(ctx context.Context, conn *websocket.Conn) {
	sub := h.Subscribe()
	defer func() {
		h.Unsubscribe(sub.ID)
		conn.Close()
	}()

	// Reads only detect disconnects; the feed is one-way.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event := <-sub.Events:
			if err := conn.WriteMessage(websocket.TextMessage, event); err != nil {
				return
			}
		case <-readClosed:
			return
		case <-sub.Done:
			return
		case <-ctx.Done():
			return
		}
	}
}
