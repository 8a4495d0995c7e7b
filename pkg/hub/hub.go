package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-avatarcam/internal/log"
	"github.com/teslashibe/go-avatarcam/pkg/protocol"
)

// DefaultClientBuffer is the per-client queue length.
const DefaultClientBuffer = 8

// Stats counts hub traffic.
type Stats struct {
	Clients   int    `json:"clients"`
	Broadcast uint64 `json:"broadcast"`
	Dropped   uint64 `json:"dropped"`
	Evicted   uint64 `json:"evicted"`
}

// Hub tracks connected clients and broadcasts to them from a single goroutine.
type Hub struct {
	name         string
	logger       *slog.Logger
	clientBuffer int

	clients    map[*Client]struct{}
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex // guards clients for ClientCount
	running atomic.Bool

	sent, dropped, evicted atomic.Uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithClientBuffer sets how many messages a client may lag before eviction.
func WithClientBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.clientBuffer = n
		}
	}
}

// New creates a hub. Start it with Run.
func New(name string, opts ...Option) *Hub {
	h := &Hub{
		name:         name,
		logger:       log.Component("hub").With("hub", name),
		clientBuffer: DefaultClientBuffer,
		clients:      make(map[*Client]struct{}),
		broadcast:    make(chan Message, 64),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns the hub name.
func (h *Hub) Name() string {
	return h.name
}

// Run serves register, unregister and broadcast requests until ctx is done.
// All client queues are closed on return.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
		h.mu.Lock()
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", "total", count)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", "remaining", count)

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) fanOut(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			close(c.send)
			delete(h.clients, c)
			h.evicted.Add(1)
			h.logger.Warn("evicted slow client")
		}
	}
	h.sent.Add(1)
}

// Broadcast queues msg for every client. It never blocks; when the hub is
// backed up the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastEnvelope encodes env and broadcasts it as a text frame.
func (h *Hub) BroadcastEnvelope(env *protocol.Message) error {
	msg, err := NewEnvelopeMessage(env)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// BroadcastBinary broadcasts an encoded JPEG as a binary frame. Anything
// else is counted as dropped.
func (h *Hub) BroadcastBinary(data []byte) {
	msg, err := NewImageMessage(data)
	if err != nil {
		h.dropped.Add(1)
		h.logger.Debug("rejected image payload", "bytes", len(data), "error", err)
		return
	}
	h.Broadcast(msg)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasClients reports whether anyone is listening. Producers use it to skip
// encoding work.
func (h *Hub) HasClients() bool {
	return h.ClientCount() > 0
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Stats returns traffic counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Clients:   h.ClientCount(),
		Broadcast: h.sent.Load(),
		Dropped:   h.dropped.Load(),
		Evicted:   h.evicted.Load(),
	}
}
