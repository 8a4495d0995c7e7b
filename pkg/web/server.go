// Package web serves the control API and live websocket streams.
package web

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-avatarcam/internal/log"
	"github.com/teslashibe/go-avatarcam/pkg/camera"
	"github.com/teslashibe/go-avatarcam/pkg/gui"
	"github.com/teslashibe/go-avatarcam/pkg/hub"
	"github.com/teslashibe/go-avatarcam/pkg/protocol"
	"github.com/teslashibe/go-avatarcam/pkg/retarget"
)

// maxRecentStatus is how many status events GET /api/status returns.
const maxRecentStatus = 50

// DefaultStatsInterval is how often stats envelopes are pushed on /ws/status.
const DefaultStatsInterval = time.Second

// CameraLister enumerates capture devices.
type CameraLister func(ctx context.Context) ([]camera.Device, error)

// Config configures the HTTP listener.
type Config struct {
	Addr          string
	StaticDir     string // served at / when the directory exists
	StatsInterval time.Duration
}

// Deps are the components the API exposes. Store is required; the rest
// disable their routes' data when nil.
type Deps struct {
	Store   *gui.Store
	Library *retarget.Library
	Cameras CameraLister
	Stats   func() protocol.StatsData
}

// Server is the control server.
type Server struct {
	app    *fiber.App
	cfg    Config
	deps   Deps
	logger *slog.Logger

	previewHub *hub.Hub // mirrored camera JPEG
	outputHub  *hub.Hub // emitted frames JPEG
	statusHub  *hub.Hub // protocol envelopes

	recentMu sync.RWMutex
	recent   []protocol.StatusData
}

// NewServer builds the routes. Call Run to serve.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("web: no state store")
	}
	if deps.Cameras == nil {
		deps.Cameras = camera.Enumerate
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}

	s := &Server{
		cfg:        cfg,
		deps:       deps,
		logger:     log.Component("web"),
		previewHub: hub.New("preview", hub.WithClientBuffer(2)),
		outputHub:  hub.New("output", hub.WithClientBuffer(2)),
		statusHub:  hub.New("status", hub.WithClientBuffer(64)),
		recent:     make([]protocol.StatusData, 0, maxRecentStatus),
	}

	app := fiber.New(fiber.Config{
		AppName:               "avatarcam",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
			app.Static("/", cfg.StaticDir)
		}
	}

	api := app.Group("/api")
	api.Get("/state", s.handleGetState)
	api.Patch("/state", s.handlePatchState)
	api.Get("/cameras", s.handleListCameras)
	api.Post("/camera", s.handleSelectCamera)
	api.Get("/avatars", s.handleListAvatars)
	api.Post("/avatar", s.handleSelectAvatar)
	api.Get("/stats", s.handleStats)
	api.Get("/status", s.handleStatus)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/preview", websocket.New(func(c *websocket.Conn) { hub.Serve(s.previewHub, c) }))
	app.Get("/ws/output", websocket.New(func(c *websocket.Conn) { hub.Serve(s.outputHub, c) }))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	deps.Store.OnChange(func(_, next *gui.State) {
		s.broadcast(protocol.NewStateMessage(next))
	})

	s.app = app
	return s, nil
}

// App exposes the Fiber app so other components can add routes before Run.
func (s *Server) App() *fiber.App {
	return s.app
}

// PreviewHub carries mirrored camera previews.
func (s *Server) PreviewHub() *hub.Hub { return s.previewHub }

// OutputHub carries frames sent to the virtual camera.
func (s *Server) OutputHub() *hub.Hub { return s.outputHub }

// StatusHub carries state, stats and status envelopes.
func (s *Server) StatusHub() *hub.Hub { return s.statusHub }

// Run starts the hubs and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go s.previewHub.Run(ctx)
	go s.outputHub.Run(ctx)
	go s.statusHub.Run(ctx)
	go s.statsLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control server listening", "addr", s.cfg.Addr)
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.app.ShutdownWithTimeout(5 * time.Second)
	}
}

func (s *Server) statsLoop(ctx context.Context) {
	if s.deps.Stats == nil {
		return
	}
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.statusHub.HasClients() {
				s.broadcast(protocol.NewStatsMessage(s.deps.Stats()))
			}
		}
	}
}

// Report records a status event and pushes it to status clients. Its
// signature matches pipeline.StatusFunc.
func (s *Server) Report(level protocol.Level, component, message string, err error) {
	msg, encErr := protocol.NewStatusMessage(level, component, message, err)
	if encErr != nil {
		return
	}
	var data protocol.StatusData
	msg.ParseData(&data)

	s.recentMu.Lock()
	s.recent = append(s.recent, data)
	if len(s.recent) > maxRecentStatus {
		s.recent = s.recent[1:]
	}
	s.recentMu.Unlock()

	s.broadcast(msg, nil)
}

func (s *Server) broadcast(msg *protocol.Message, err error) {
	if err != nil {
		s.logger.Warn("encode status message", "error", err)
		return
	}
	if err := s.statusHub.BroadcastEnvelope(msg); err != nil {
		s.logger.Warn("broadcast status message", "type", msg.Type, "error", err)
	}
}

// RecentStatus returns the latest status events, oldest first.
func (s *Server) RecentStatus() []protocol.StatusData {
	s.recentMu.RLock()
	defer s.recentMu.RUnlock()
	out := make([]protocol.StatusData, len(s.recent))
	copy(out, s.recent)
	return out
}
