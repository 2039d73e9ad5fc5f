package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-trackables/internal/log"
)

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	name string
	log  *slog.Logger

	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register and unregister requests from clients
	register   chan *Client
	unregister chan *Client

	// Guards clients for ClientCount
	mu sync.RWMutex

	// Closed when Run returns
	done chan struct{}

	running atomic.Bool
	dropped atomic.Uint64
}

// New creates a new Hub
func New(name string) *Hub {
	return &Hub{
		name:       name,
		log:        log.With("component", "hub", "hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run fans messages out until ctx is done, then disconnects every client.
// This should be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.closeAll()
		h.running.Store(false)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Info("client connected", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Info("client disconnected", "clients", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Too slow to keep up; drop the client
					close(client.send)
					delete(h.clients, client)
					h.log.Warn("dropped slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) join(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Broadcast sends a message to all connected clients. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
		h.log.Warn("broadcast queue full, dropping message")
	}
}

// BroadcastJSON encodes and broadcasts a JSON message
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(NewJSONMessage(data))
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many broadcasts were dropped on a full queue
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}
