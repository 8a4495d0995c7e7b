// Package app assembles the avatarcam components into a running process.
//
// One binary plays three roles. ModeAll runs capture, render and the
// virtual camera in one process. ModeRender and ModeHost split the
// pipeline at the relay so the renderer and the emitter can live in
// different processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/teslashibe/go-avatarcam/internal/config"
	"github.com/teslashibe/go-avatarcam/internal/log"
	"github.com/teslashibe/go-avatarcam/pkg/camera"
	"github.com/teslashibe/go-avatarcam/pkg/compositor"
	"github.com/teslashibe/go-avatarcam/pkg/debug"
	"github.com/teslashibe/go-avatarcam/pkg/frame"
	"github.com/teslashibe/go-avatarcam/pkg/gui"
	"github.com/teslashibe/go-avatarcam/pkg/hub"
	"github.com/teslashibe/go-avatarcam/pkg/inference"
	"github.com/teslashibe/go-avatarcam/pkg/pipeline"
	"github.com/teslashibe/go-avatarcam/pkg/protocol"
	"github.com/teslashibe/go-avatarcam/pkg/relay"
	"github.com/teslashibe/go-avatarcam/pkg/retarget"
	"github.com/teslashibe/go-avatarcam/pkg/vcam"
	"github.com/teslashibe/go-avatarcam/pkg/web"
	"golang.org/x/sync/errgroup"
)

// Mode selects which half of the pipeline a process runs.
type Mode string

const (
	ModeAll    Mode = "run"    // renderer and emitter in one process
	ModeRender Mode = "render" // capture and render, send frames to a host
	ModeHost   Mode = "host"   // receive frames and drive the virtual camera
)

func (m Mode) renders() bool { return m == ModeAll || m == ModeRender }
func (m Mode) hosts() bool   { return m == ModeAll || m == ModeHost }

const (
	relayDialAttempts = 20
	relayDialBackoff  = 250 * time.Millisecond

	// output previews are published at most this often
	outputPreviewFPS = 15
)

// ErrEmitterFailed is returned by Run when the virtual camera fails.
var ErrEmitterFailed = errors.New("app: virtual camera failed")

// App owns every component of one avatarcam process.
type App struct {
	cfg    *config.Config
	mode   Mode
	logger *slog.Logger

	// Control surface
	store     *gui.Store
	library   *retarget.Library
	webServer *web.Server

	// Render side
	source     *camera.Source
	adapter    *inference.Adapter
	compositor *compositor.Compositor
	avatar     *retarget.Skeleton
	controller *pipeline.Controller

	mu       sync.RWMutex // guards renderer and sender, created in Run
	renderer *pipeline.Renderer
	sender   relay.Sender

	// Host side
	receiver    relay.Receiver
	relayServer *relay.Server
	hostApp     *fiber.App
	hostAddr    string
	outputHub   *hub.Hub // host mode only; otherwise the web server's hub is used
	emitter     *vcam.Emitter

	fatal        chan error
	shutdownOnce sync.Once
}

// New validates the mode against the configuration.
func New(cfg *config.Config, mode Mode) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: no config")
	}
	switch mode {
	case ModeAll:
	case ModeRender, ModeHost:
		if cfg.Relay.Transport == config.RelayLocal {
			return nil, fmt.Errorf("app: %s mode needs the %s or %s relay transport", mode, config.RelayWS, config.RelayShm)
		}
	default:
		return nil, fmt.Errorf("app: unknown mode %q", mode)
	}

	return &App{
		cfg:    cfg,
		mode:   mode,
		logger: log.Component("app").With("mode", string(mode)),
		fatal:  make(chan error, 1),
	}, nil
}

// Init creates the components. ctx bounds camera opening and the
// lifetime of background camera switches.
// Call this after New() and before Run().
func (a *App) Init(ctx context.Context) error {
	a.logger.Info("initializing",
		"transport", a.cfg.Relay.Transport,
		"output", a.cfg.Output.Device,
		"web", a.cfg.Web.Enabled)
	if debug.Enabled {
		a.logger.Info("debug mode enabled", "frames", debug.Frames)
	}

	if err := a.initRelay(); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	if a.mode.renders() {
		if err := a.initControl(); err != nil {
			return fmt.Errorf("control: %w", err)
		}
		if err := a.initRender(ctx); err != nil {
			return fmt.Errorf("render: %w", err)
		}
	}
	if a.mode.hosts() {
		if err := a.initHost(); err != nil {
			return fmt.Errorf("host: %w", err)
		}
	}
	return nil
}

// Run serves until ctx is done or a component fails.
// The renderer's sender is connected here so a host started a moment
// later is still reached.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.webServer != nil {
		g.Go(func() error { return a.webServer.Run(ctx) })
	}
	if a.outputHub != nil {
		go a.outputHub.Run(ctx)
	}
	if a.hostApp != nil {
		g.Go(func() error { return a.serveHost(ctx) })
	}

	if a.mode.hosts() {
		g.Go(func() error { return a.receiver.Run(ctx, a.submit) })
		g.Go(func() error {
			select {
			case err := <-a.fatal:
				return fmt.Errorf("%w: %w", ErrEmitterFailed, err)
			case <-ctx.Done():
				return nil
			}
		})
	}

	if a.mode.renders() {
		g.Go(func() error {
			r, err := a.startRenderer(ctx)
			if err != nil {
				return err
			}
			return r.Run(ctx)
		})
	}

	a.logger.Info("avatarcam running")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown releases every component. Safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down")

		if a.controller != nil {
			a.controller.Wait()
		}
		if a.emitter != nil {
			if err := a.emitter.Stop(); err != nil {
				a.logger.Warn("stop virtual camera", "error", err)
			}
		}

		a.mu.Lock()
		sender, renderer := a.sender, a.renderer
		a.mu.Unlock()

		if sender != nil {
			sender.Close()
		}
		if renderer != nil {
			renderer.Close()
		}
		if a.adapter != nil {
			a.adapter.Close()
		}
		if a.compositor != nil {
			a.compositor.Close()
		}
		if a.source != nil {
			a.source.Close()
		}
	})
}

// Store returns the control panel state, or nil in host mode.
func (a *App) Store() *gui.Store { return a.store }

// Emitter returns the virtual camera emitter, or nil in render mode.
func (a *App) Emitter() *vcam.Emitter { return a.emitter }

// Stats gathers the counters of every running component.
func (a *App) Stats() protocol.StatsData {
	var out protocol.StatsData

	a.mu.RLock()
	renderer, sender := a.renderer, a.sender
	a.mu.RUnlock()

	if renderer != nil {
		s := renderer.Metrics().Snapshot()
		out.Renderer = &s
	}

	rs := protocol.RelayStats{Transport: a.cfg.Relay.Transport}
	switch {
	case a.cfg.Relay.Transport == config.RelayLocal && sender != nil:
		// one queue serves both ends
		s := sender.Stats()
		rs.Sent, rs.Received, rs.Dropped, rs.Errors = s.Sent, s.Received, s.Dropped, s.Errors
	default:
		if sender != nil && a.mode.renders() {
			s := sender.Stats()
			rs.Sent, rs.Dropped, rs.Errors = s.Sent, s.Dropped, s.Errors
		}
		if a.receiver != nil && a.mode.hosts() {
			s := a.receiver.Stats()
			rs.Received = s.Received
			rs.Dropped += s.Dropped
			rs.Errors += s.Errors
		}
	}
	out.Relay = &rs

	if a.emitter != nil {
		s := a.emitter.Stats()
		out.Emitter = &protocol.EmitterStats{
			State:      s.State.String(),
			Width:      s.Width,
			Height:     s.Height,
			Received:   s.Received,
			Emitted:    s.Emitted,
			Duplicates: s.Duplicates,
			SendErrors: s.SendErrors,
		}
	}
	return out
}

// report forwards to the control server, or logs when there is none.
func (a *App) report(level protocol.Level, component, message string, err error) {
	if a.webServer != nil {
		a.webServer.Report(level, component, message, err)
	}

	logger := log.Component(component)
	switch level {
	case protocol.LevelInfo:
		logger.Info(message)
	case protocol.LevelWarn:
		logger.Warn(message, "error", err)
	default:
		logger.Error(message, "level", string(level), "error", err)
	}
}

// submit hands a relayed frame to the emitter.
func (a *App) submit(f *frame.Composite) {
	if err := a.emitter.Submit(f); err != nil {
		debug.FrameLog("emitter rejected frame", "error", err)
	}
}

func (a *App) onEmitterFatal(err error) {
	a.report(protocol.LevelFatal, "emitter", "virtual camera failed", err)
	select {
	case a.fatal <- err:
	default:
	}
}
