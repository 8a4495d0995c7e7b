package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-avatarcam/internal/config"
	"github.com/teslashibe/go-avatarcam/pkg/camera"
	"github.com/teslashibe/go-avatarcam/pkg/compositor"
	"github.com/teslashibe/go-avatarcam/pkg/gui"
	"github.com/teslashibe/go-avatarcam/pkg/hub"
	"github.com/teslashibe/go-avatarcam/pkg/inference"
	"github.com/teslashibe/go-avatarcam/pkg/pipeline"
	"github.com/teslashibe/go-avatarcam/pkg/protocol"
	"github.com/teslashibe/go-avatarcam/pkg/relay"
	"github.com/teslashibe/go-avatarcam/pkg/retarget"
	"github.com/teslashibe/go-avatarcam/pkg/vcam"
	"github.com/teslashibe/go-avatarcam/pkg/web"
)

// initRelay creates the transport ends this mode needs. A WebSocket
// sender is dialed later, in Run.
func (a *App) initRelay() error {
	rc := a.cfg.Relay
	switch rc.Transport {
	case config.RelayLocal:
		l := relay.NewLocal(rc.Buffer)
		a.sender = l
		a.receiver = l
	case config.RelayWS:
		if a.mode.hosts() {
			a.relayServer = relay.NewServer()
			a.receiver = a.relayServer
		}
	case config.RelayShm:
		if a.mode.renders() {
			a.sender = relay.NewShmSender(rc.ShmPath, a.cfg.Canvas.Width*a.cfg.Canvas.Height*4)
		}
		if a.mode.hosts() {
			a.receiver = relay.NewShmReceiver(rc.ShmPath, relay.DefaultShmPoll)
		}
	default:
		return fmt.Errorf("unknown transport %q", rc.Transport)
	}
	return nil
}

// initControl loads the avatar library, the control panel state and the
// web server.
func (a *App) initControl() error {
	lib, err := retarget.NewLibrary()
	if err != nil {
		return err
	}
	if dir := a.cfg.Render.TemplateDir; dir != "" {
		n, err := lib.LoadDir(dir)
		if err != nil {
			return fmt.Errorf("load templates: %w", err)
		}
		a.logger.Info("avatar templates loaded", "dir", dir, "count", n)
	}
	a.library = lib

	store, err := gui.NewStore(initialState(a.cfg))
	if err != nil {
		return err
	}
	store.ValidateAvatar = func(name string) error {
		_, err := lib.Get(name)
		return err
	}
	a.store = store

	if !a.cfg.Web.Enabled {
		return nil
	}
	srv, err := web.NewServer(web.Config{
		Addr:      a.cfg.Web.Listen,
		StaticDir: a.cfg.Web.StaticDir,
	}, web.Deps{
		Store:   store,
		Library: lib,
		Stats:   a.Stats,
	})
	if err != nil {
		return err
	}
	if a.relayServer != nil {
		a.relayServer.RegisterAPIRoutes(srv.App().Group("/api"))
	}
	a.webServer = srv
	return nil
}

// initialState seeds the control panel from the render settings.
func initialState(cfg *config.Config) gui.State {
	st := gui.DefaultState()
	st.Camera.Device = cfg.CameraDevice
	st.Camera.Hidden = cfg.Render.HideCamera
	st.Image.Avatar = cfg.Render.Avatar
	st.Image.Background = cfg.Render.Background
	st.Debug = gui.DebugState{
		FPS:       cfg.Render.ShowFPS,
		Detection: cfg.Render.ShowDetection,
		Avatar:    cfg.Render.ShowAvatarDebug,
	}
	return st
}

func (a *App) initRender(ctx context.Context) error {
	src := camera.NewSource(a.cfg.Camera)
	if err := src.Open(ctx, a.cfg.CameraDevice); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	a.source = src

	adapter, err := newAdapter(a.cfg.Models, a.logger)
	if err != nil {
		return err
	}
	a.adapter = adapter

	comp, err := compositor.New(compositor.Config{
		VideoWidth:        a.cfg.Camera.Width,
		VideoHeight:       a.cfg.Camera.Height,
		CanvasWidth:       a.cfg.Canvas.Width,
		CanvasHeight:      a.cfg.Canvas.Height,
		MinPoseConfidence: a.cfg.Detection.MinPoseConfidence,
		MinPartConfidence: a.cfg.Detection.MinPartConfidence,
	})
	if err != nil {
		return err
	}
	a.compositor = comp

	a.avatar = retarget.NewSkeleton(a.cfg.Detection.MinPartConfidence)
	a.controller = pipeline.NewController(ctx, src, a.library, a.avatar, a.report)
	if err := a.controller.Attach(a.store); err != nil {
		return fmt.Errorf("bind avatar: %w", err)
	}
	return nil
}

// newAdapter loads the pose model and, when its files exist, the face models.
func newAdapter(m config.ModelConfig, logger *slog.Logger) (*inference.Adapter, error) {
	pcfg := inference.DefaultPoseNetConfig()
	pcfg.ModelPath = m.PoseNet
	pcfg.InputSize = m.PoseInput
	pcfg.OutputStride = m.OutputStride
	pcfg.HeatmapLayer = m.HeatmapLayer
	pcfg.OffsetLayer = m.OffsetLayer
	pose, err := inference.NewPoseNet(pcfg)
	if err != nil {
		return nil, err
	}

	fcfg := inference.DefaultFaceMeshConfig()
	fcfg.DetectorPath = m.YuNet
	fcfg.MeshPath = m.FaceMesh
	var face inference.FaceEstimator
	fm, err := inference.NewFaceMesh(fcfg)
	switch {
	case err == nil:
		face = fm
	case errors.Is(err, inference.ErrModelNotFound):
		logger.Warn("face tracking disabled", "error", err)
	default:
		pose.Close()
		return nil, err
	}
	return inference.NewAdapter(pose, face), nil
}

func (a *App) initHost() error {
	var pub vcam.Publisher
	switch {
	case a.webServer != nil:
		pub = a.webServer.OutputHub()
	case a.cfg.Web.Enabled:
		a.outputHub = hub.New("output", hub.WithClientBuffer(2))
		pub = a.outputHub
	}

	dev, err := buildDevice(a.cfg.Output, pub)
	if err != nil {
		return err
	}
	a.emitter = vcam.NewEmitter(dev, vcam.Config{
		FPS:   a.cfg.Output.FPS,
		Delay: a.cfg.Output.Delay,
	}, vcam.WithFatal(a.onEmitterFatal))

	// Host-side routes live on their own app when the relay listens, or
	// when host mode still wants an output preview.
	switch {
	case a.relayServer != nil:
		a.hostAddr = a.cfg.Relay.Listen
	case a.outputHub != nil:
		a.hostAddr = a.cfg.Web.Listen
	default:
		return nil
	}

	app := fiber.New(fiber.Config{
		AppName:               "avatarcam-host",
		DisableStartupMessage: true,
	})
	if a.relayServer != nil {
		a.relayServer.RegisterRoutes(app)
		a.relayServer.RegisterAPIRoutes(app.Group("/api"))
	}
	app.Get("/api/stats", func(c *fiber.Ctx) error {
		return c.JSON(a.Stats())
	})
	if a.outputHub != nil {
		out := a.outputHub
		app.Use("/ws/output", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/output", websocket.New(func(c *websocket.Conn) { hub.Serve(out, c) }))
	}
	a.hostApp = app
	return nil
}

// buildDevice maps the output setting to a device. pub, when set, also
// receives JPEG copies of emitted frames.
func buildDevice(oc config.OutputConfig, pub vcam.Publisher) (vcam.Device, error) {
	switch oc.Device {
	case config.OutputV4L2:
		dev := vcam.NewV4L2(oc.Path)
		if pub == nil {
			return dev, nil
		}
		return vcam.NewTee(dev, vcam.NewPreview(pub, vcam.DefaultPreviewQuality, outputPreviewFPS)), nil
	case config.OutputPreview:
		if pub == nil {
			return nil, errors.New("preview output needs the web server")
		}
		return vcam.NewPreview(pub, vcam.DefaultPreviewQuality, 0), nil
	case config.OutputNone:
		dev := vcam.NewRecorder(1)
		if pub == nil {
			return dev, nil
		}
		return vcam.NewTee(dev, vcam.NewPreview(pub, vcam.DefaultPreviewQuality, outputPreviewFPS)), nil
	default:
		return nil, fmt.Errorf("unknown output device %q", oc.Device)
	}
}

func (a *App) serveHost(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("host listening", "addr", a.hostAddr)
		errCh <- a.hostApp.Listen(a.hostAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return a.hostApp.ShutdownWithTimeout(5 * time.Second)
	}
}

// startRenderer connects the sender if needed and builds the render loop.
func (a *App) startRenderer(ctx context.Context) (*pipeline.Renderer, error) {
	a.mu.RLock()
	sender := a.sender
	a.mu.RUnlock()

	dialed := false
	if sender == nil {
		ws, err := dialRelay(ctx, a.cfg.Relay.URL)
		if err != nil {
			a.report(protocol.LevelError, "relay", "relay host unreachable", err)
			return nil, err
		}
		sender, dialed = ws, true
	}

	var scheduler pipeline.Scheduler = pipeline.Immediate{}
	if hz := a.cfg.Render.RefreshRate; hz > 0 {
		scheduler = pipeline.NewVSync(hz)
	}

	deps := pipeline.Deps{
		Source:    a.source,
		Estimator: a.adapter,
		Composer:  a.compositor,
		Relay:     sender,
		State:     a.store,
		Avatar:    a.avatar,
		Status:    a.report,
		Scheduler: scheduler,
	}
	if a.webServer != nil {
		deps.Preview = a.webServer.PreviewHub()
	}

	r, err := pipeline.NewRenderer(pipeline.Config{
		Mirror: a.cfg.Camera.Mirror,
		Pose: inference.PoseConfig{
			MaxDetections: a.cfg.Detection.MaxDetections,
			MinScore:      a.cfg.Detection.MinPoseConfidence,
			NMSRadius:     float64(a.cfg.Detection.NMSRadius),
		},
		MinPoseConfidence:    a.cfg.Detection.MinPoseConfidence,
		MinPartConfidence:    a.cfg.Detection.MinPartConfidence,
		MaxInferenceFailures: a.cfg.Render.MaxInferenceFailures,
		PreviewQuality:       vcam.DefaultPreviewQuality,
	}, deps)
	if err != nil {
		if dialed {
			sender.Close()
		}
		return nil, err
	}

	a.mu.Lock()
	a.sender = sender
	a.renderer = r
	a.mu.Unlock()
	return r, nil
}

// dialRelay retries until the host accepts the connection.
func dialRelay(ctx context.Context, url string) (*relay.WSSender, error) {
	var lastErr error
	for attempt := 1; attempt <= relayDialAttempts; attempt++ {
		s, err := relay.DialWS(ctx, url)
		if err == nil {
			return s, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(relayDialBackoff):
		}
	}
	return nil, fmt.Errorf("dial %s after %d attempts: %w", url, relayDialAttempts, lastErr)
}
