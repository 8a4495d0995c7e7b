package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/teslashibe/go-avatarcam/internal/log"
	"github.com/teslashibe/go-avatarcam/pkg/debug"
)

// FramePath is the WebSocket endpoint that accepts frame messages.
const FramePath = "/ws/" + Channel

// SenderInfo describes a connected renderer.
type SenderInfo struct {
	ID        string    `json:"id"`
	Remote    string    `json:"remote"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// Server receives frames over WebSocket on a Fiber app.
//
// Frames from one connection reach the handler in send order. Frames from
// concurrent connections are interleaved.
type Server struct {
	logger *slog.Logger

	mu      sync.RWMutex
	senders map[string]*SenderInfo
	handler Handler

	stats counters
}

// NewServer creates a receiving endpoint. Call RegisterRoutes, then Run.
func NewServer() *Server {
	return &Server{
		logger:  log.Component("relay").With("transport", "ws"),
		senders: make(map[string]*SenderInfo),
	}
}

// RegisterRoutes registers the frame endpoint on app.
func (s *Server) RegisterRoutes(app *fiber.App) {
	app.Use(FramePath, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get(FramePath, websocket.New(s.handleSender))
}

// RegisterAPIRoutes registers read-only status routes.
func (s *Server) RegisterAPIRoutes(api fiber.Router) {
	api.Get("/relay", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"senders": s.Senders(),
			"stats":   s.Stats(),
		})
	})
}

// Run delivers received frames to h until ctx is done.
func (s *Server) Run(ctx context.Context, h Handler) error {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	s.handler = nil
	s.mu.Unlock()
	return nil
}

func (s *Server) handleSender(c *websocket.Conn) {
	info := &SenderInfo{
		ID:        uuid.NewString(),
		Remote:    c.RemoteAddr().String(),
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	s.mu.Lock()
	s.senders[info.ID] = info
	count := len(s.senders)
	s.mu.Unlock()

	s.logger.Info("renderer connected", "id", info.ID, "remote", info.Remote, "total", count)

	defer func() {
		s.mu.Lock()
		delete(s.senders, info.ID)
		count := len(s.senders)
		s.mu.Unlock()
		s.logger.Info("renderer disconnected", "id", info.ID, "total", count)
	}()

	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			debug.Log("relay read error", "id", info.ID, "error", err)
			return
		}
		if mt != websocket.BinaryMessage {
			s.stats.errors.Add(1)
			continue
		}

		f, err := Decode(data)
		if err != nil {
			s.stats.errors.Add(1)
			s.logger.Warn("dropping malformed frame", "id", info.ID, "error", err)
			continue
		}

		s.mu.Lock()
		info.LastSeen = time.Now()
		h := s.handler
		s.mu.Unlock()

		if h == nil {
			s.stats.dropped.Add(1)
			continue
		}
		s.stats.received.Add(1)
		h(f)
	}
}

// Senders returns the connected renderers.
func (s *Server) Senders() []SenderInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SenderInfo, 0, len(s.senders))
	for _, info := range s.senders {
		out = append(out, *info)
	}
	return out
}

// Stats implements Receiver.
func (s *Server) Stats() Stats {
	return s.stats.snapshot()
}
