package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/teslashibe/go-avatarcam/internal/config"
	"github.com/teslashibe/go-avatarcam/pkg/app"
)

// renderFlags override the capture and render settings.
type renderFlags struct {
	camera      string
	avatar      string
	background  string
	refreshRate int
	noMirror    bool
	hideCamera  bool
}

func (f *renderFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.camera, "camera", "", "Capture device index or path")
	cmd.Flags().StringVar(&f.avatar, "avatar", "", "Avatar template name")
	cmd.Flags().StringVar(&f.background, "background", "", "Background colour as #rrggbb")
	cmd.Flags().IntVar(&f.refreshRate, "refresh-rate", 0, "Render ticks per second; 0 renders as fast as possible")
	cmd.Flags().BoolVar(&f.noMirror, "no-mirror", false, "Do not mirror the camera")
	cmd.Flags().BoolVar(&f.hideCamera, "hide-camera", false, "Start with the camera preview hidden")
}

func (f *renderFlags) apply(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("camera") {
		c.CameraDevice = f.camera
	}
	if flags.Changed("avatar") {
		c.Render.Avatar = f.avatar
	}
	if flags.Changed("background") {
		c.Render.Background = f.background
	}
	if flags.Changed("refresh-rate") {
		c.Render.RefreshRate = f.refreshRate
	}
	if flags.Changed("no-mirror") {
		c.Camera.Mirror = !f.noMirror
	}
	if flags.Changed("hide-camera") {
		c.Render.HideCamera = f.hideCamera
	}
}

// outputFlags override the virtual camera settings.
type outputFlags struct {
	device string
	path   string
	fps    int
	delay  time.Duration
}

func (f *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.device, "output", "", "Output device: v4l2, preview or none")
	cmd.Flags().StringVar(&f.path, "output-path", "", "v4l2loopback device node")
	cmd.Flags().IntVar(&f.fps, "fps", 0, "Virtual camera frame rate")
	cmd.Flags().DurationVar(&f.delay, "delay", 0, "Wait before the first emitted frame")
}

func (f *outputFlags) apply(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("output") {
		c.Output.Device = f.device
	}
	if flags.Changed("output-path") {
		c.Output.Path = f.path
	}
	if flags.Changed("fps") {
		c.Output.FPS = f.fps
	}
	if flags.Changed("delay") {
		c.Output.Delay = f.delay
	}
}

// webFlags override the control server settings.
type webFlags struct {
	listen string
	noWeb  bool
}

func (f *webFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.listen, "web-listen", "", "Control server address")
	cmd.Flags().BoolVar(&f.noWeb, "no-web", false, "Disable the control server")
}

func (f *webFlags) apply(cmd *cobra.Command, c *config.Config) {
	if cmd.Flags().Changed("web-listen") {
		c.Web.Listen = f.listen
	}
	if f.noWeb {
		c.Web.Enabled = false
	}
}

// parseRelayTarget reads a renderer --relay value: a ws:// or wss:// URL,
// or shm:<path>.
func parseRelayTarget(target string, c *config.RelayConfig) error {
	switch {
	case strings.HasPrefix(target, "ws://"), strings.HasPrefix(target, "wss://"):
		c.Transport = config.RelayWS
		c.URL = target
	case strings.HasPrefix(target, "shm:"):
		path := strings.TrimPrefix(target, "shm:")
		if path == "" {
			return fmt.Errorf("relay target %q has no path", target)
		}
		c.Transport = config.RelayShm
		c.ShmPath = path
	default:
		return fmt.Errorf("relay target %q: want ws://host:port/ws/frame or shm:/path", target)
	}
	return nil
}

var (
	runRender renderFlags
	runOutput outputFlags
	runWeb    webFlags
	runRelay  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture, render and publish the virtual camera in one process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runRender.apply(cmd, cfg)
		runOutput.apply(cmd, cfg)
		runWeb.apply(cmd, cfg)
		if cmd.Flags().Changed("relay") {
			cfg.Relay.Transport = runRelay
		}
		return runApp(cmd.Context(), app.ModeAll)
	},
}

var (
	renderRender renderFlags
	renderWeb    webFlags
	renderRelay  string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Capture and render, sending frames to a separate host process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		renderRender.apply(cmd, cfg)
		renderWeb.apply(cmd, cfg)
		if err := parseRelayTarget(renderRelay, &cfg.Relay); err != nil {
			return err
		}
		return runApp(cmd.Context(), app.ModeRender)
	},
}

var (
	hostOutput    outputFlags
	hostWeb       webFlags
	hostTransport string
	hostListen    string
	hostShmPath   string
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Receive rendered frames and drive the virtual camera",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hostOutput.apply(cmd, cfg)
		hostWeb.apply(cmd, cfg)
		flags := cmd.Flags()
		if flags.Changed("transport") {
			cfg.Relay.Transport = hostTransport
		} else if cfg.Relay.Transport == config.RelayLocal {
			cfg.Relay.Transport = config.RelayWS
		}
		if flags.Changed("listen") {
			cfg.Relay.Listen = hostListen
		}
		if flags.Changed("shm-path") {
			cfg.Relay.ShmPath = hostShmPath
		}
		return runApp(cmd.Context(), app.ModeHost)
	},
}

func init() {
	runRender.register(runCmd)
	runOutput.register(runCmd)
	runWeb.register(runCmd)
	runCmd.Flags().StringVar(&runRelay, "relay", "", "Internal relay transport: local, ws or shm")

	renderRender.register(renderCmd)
	renderWeb.register(renderCmd)
	renderCmd.Flags().StringVar(&renderRelay, "relay", "", "Host to send frames to: ws://host:port/ws/frame or shm:/path")
	renderCmd.MarkFlagRequired("relay")

	hostOutput.register(hostCmd)
	hostWeb.register(hostCmd)
	hostCmd.Flags().StringVar(&hostTransport, "transport", "", "Relay transport: ws or shm (default ws)")
	hostCmd.Flags().StringVar(&hostListen, "listen", "", "Relay listen address for the ws transport")
	hostCmd.Flags().StringVar(&hostShmPath, "shm-path", "", "Shared memory file for the shm transport")

	rootCmd.AddCommand(runCmd, renderCmd, hostCmd)
}
