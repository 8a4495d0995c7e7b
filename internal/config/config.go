// Package config loads avatarcam settings.
//
// Precedence, lowest first: built-in defaults, YAML file, .env file and
// process environment (AVATARCAM_*), then CLI flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/teslashibe/go-avatarcam/pkg/camera"
	"gopkg.in/yaml.v3"
)

// Output device kinds.
const (
	OutputV4L2    = "v4l2"
	OutputPreview = "preview"
	OutputNone    = "none"
)

// Relay transports.
const (
	RelayLocal = "local"
	RelayWS    = "ws"
	RelayShm   = "shm"
)

// Config is the full application configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Camera       camera.Config `yaml:"camera"`
	CameraDevice string        `yaml:"camera_device"` // "" = device 0

	Canvas    CanvasConfig    `yaml:"canvas"`
	Render    RenderConfig    `yaml:"render"`
	Models    ModelConfig     `yaml:"models"`
	Detection DetectionConfig `yaml:"detection"`
	Output    OutputConfig    `yaml:"output"`
	Relay     RelayConfig     `yaml:"relay"`
	Web       WebConfig       `yaml:"web"`
}

// CanvasConfig sizes the composited output frame.
type CanvasConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// RenderConfig controls the render loop and the initial GUI state.
type RenderConfig struct {
	RefreshRate          int    `yaml:"refresh_rate"` // Hz; 0 renders as fast as possible
	MaxInferenceFailures int    `yaml:"max_inference_failures"`
	Avatar               string `yaml:"avatar"`
	TemplateDir          string `yaml:"template_dir"` // extra *.yaml avatar templates
	Background           string `yaml:"background"`
	ShowFPS              bool   `yaml:"show_fps"`
	ShowDetection        bool   `yaml:"show_detection"`
	ShowAvatarDebug      bool   `yaml:"show_avatar_debug"`
	HideCamera           bool   `yaml:"hide_camera"`
}

// ModelConfig locates the DNN models.
type ModelConfig struct {
	PoseNet      string `yaml:"posenet"`
	PoseInput    int    `yaml:"pose_input"`
	OutputStride int    `yaml:"output_stride"`
	HeatmapLayer string `yaml:"heatmap_layer"`
	OffsetLayer  string `yaml:"offset_layer"`
	YuNet        string `yaml:"yunet"`
	FaceMesh     string `yaml:"facemesh"` // optional
}

// DetectionConfig holds the pose thresholds.
type DetectionConfig struct {
	MinPoseConfidence float64 `yaml:"min_pose_confidence"`
	MinPartConfidence float64 `yaml:"min_part_confidence"`
	NMSRadius         int     `yaml:"nms_radius"`
	MaxDetections     int     `yaml:"max_detections"`
}

// OutputConfig selects the virtual camera device.
type OutputConfig struct {
	Device string        `yaml:"device"` // v4l2, preview, none
	Path   string        `yaml:"path"`   // v4l2loopback node
	FPS    int           `yaml:"fps"`
	Delay  time.Duration `yaml:"delay"`
}

// RelayConfig selects how composites travel from renderer to emitter.
type RelayConfig struct {
	Transport string `yaml:"transport"` // local, ws, shm
	URL       string `yaml:"url"`       // ws sender target
	Listen    string `yaml:"listen"`    // ws receiver address
	ShmPath   string `yaml:"shm_path"`
	Buffer    int    `yaml:"buffer"` // local transport queue depth
}

// WebConfig controls the HTTP control surface.
type WebConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	StaticDir string `yaml:"static_dir"` // control panel assets, optional
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Camera:   camera.DefaultConfig(),
		Canvas:   CanvasConfig{Width: 640, Height: 360},
		Render: RenderConfig{
			RefreshRate:          60,
			MaxInferenceFailures: 30,
			Avatar:               "girl",
			Background:           "#ffffff",
		},
		Models: ModelConfig{
			PoseNet:      "models/posenet_mobilenet_257.onnx",
			PoseInput:    257,
			OutputStride: 16,
			HeatmapLayer: "heatmap",
			OffsetLayer:  "offset_2",
			YuNet:        "models/face_detection_yunet.onnx",
		},
		Detection: DetectionConfig{
			MinPoseConfidence: 0.15,
			MinPartConfidence: 0.1,
			NMSRadius:         30,
			MaxDetections:     1,
		},
		Output: OutputConfig{
			Device: OutputV4L2,
			Path:   "/dev/video10",
			FPS:    30,
		},
		Relay: RelayConfig{
			Transport: RelayLocal,
			URL:       "ws://127.0.0.1:9090/ws/frame",
			Listen:    ":9090",
			ShmPath:   "/dev/shm/avatarcam-frame",
			Buffer:    2,
		},
		Web: WebConfig{
			Enabled: true,
			Listen:  ":8181",
		},
	}
}

// Load builds a Config from defaults, an optional YAML file, .env and the environment.
// path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads a .env file if present. Variables already set win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("AVATARCAM_LOG_LEVEL", c.LogLevel)
	c.CameraDevice = getEnv("AVATARCAM_CAMERA", c.CameraDevice)
	c.Camera.Mirror = getEnvAsBool("AVATARCAM_MIRROR", c.Camera.Mirror)

	c.Render.RefreshRate = getEnvAsInt("AVATARCAM_REFRESH_RATE", c.Render.RefreshRate)
	c.Render.Avatar = getEnv("AVATARCAM_AVATAR", c.Render.Avatar)
	c.Render.TemplateDir = getEnv("AVATARCAM_TEMPLATE_DIR", c.Render.TemplateDir)
	c.Render.Background = getEnv("AVATARCAM_BACKGROUND", c.Render.Background)

	c.Models.PoseNet = getEnv("AVATARCAM_POSENET_MODEL", c.Models.PoseNet)
	c.Models.YuNet = getEnv("AVATARCAM_YUNET_MODEL", c.Models.YuNet)
	c.Models.FaceMesh = getEnv("AVATARCAM_FACEMESH_MODEL", c.Models.FaceMesh)

	c.Output.Device = getEnv("AVATARCAM_OUTPUT", c.Output.Device)
	c.Output.Path = getEnv("AVATARCAM_OUTPUT_PATH", c.Output.Path)
	c.Output.FPS = getEnvAsInt("AVATARCAM_FPS", c.Output.FPS)
	c.Output.Delay = getEnvAsDuration("AVATARCAM_DELAY", c.Output.Delay)

	c.Relay.Transport = getEnv("AVATARCAM_RELAY", c.Relay.Transport)
	c.Relay.URL = getEnv("AVATARCAM_RELAY_URL", c.Relay.URL)
	c.Relay.Listen = getEnv("AVATARCAM_RELAY_LISTEN", c.Relay.Listen)
	c.Relay.ShmPath = getEnv("AVATARCAM_SHM_PATH", c.Relay.ShmPath)

	c.Web.Enabled = getEnvAsBool("AVATARCAM_WEB", c.Web.Enabled)
	c.Web.Listen = getEnv("AVATARCAM_WEB_LISTEN", c.Web.Listen)
	c.Web.StaticDir = getEnv("AVATARCAM_WEB_STATIC", c.Web.StaticDir)
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	problems := c.Camera.Validate()

	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 {
		problems = append(problems, "canvas width and height must be positive")
	}
	if c.Render.RefreshRate < 0 {
		problems = append(problems, "refresh_rate must not be negative")
	}
	if c.Render.MaxInferenceFailures < 1 {
		problems = append(problems, "max_inference_failures must be at least 1")
	}
	if c.Detection.MinPoseConfidence < 0 || c.Detection.MinPoseConfidence > 1 {
		problems = append(problems, "min_pose_confidence must be between 0 and 1")
	}
	if c.Detection.MinPartConfidence < 0 || c.Detection.MinPartConfidence > 1 {
		problems = append(problems, "min_part_confidence must be between 0 and 1")
	}
	if c.Detection.MaxDetections < 1 {
		problems = append(problems, "max_detections must be at least 1")
	}
	if c.Models.PoseInput <= 0 || c.Models.OutputStride <= 0 {
		problems = append(problems, "pose_input and output_stride must be positive")
	}

	switch c.Output.Device {
	case OutputV4L2, OutputPreview, OutputNone:
	default:
		problems = append(problems, fmt.Sprintf("output device must be %s, %s or %s", OutputV4L2, OutputPreview, OutputNone))
	}
	if c.Output.FPS < 1 {
		problems = append(problems, "output fps must be at least 1")
	}
	if c.Output.Delay < 0 {
		problems = append(problems, "output delay must not be negative")
	}

	switch c.Relay.Transport {
	case RelayLocal, RelayWS, RelayShm:
	default:
		problems = append(problems, fmt.Sprintf("relay transport must be %s, %s or %s", RelayLocal, RelayWS, RelayShm))
	}
	if c.Relay.Buffer < 1 {
		problems = append(problems, "relay buffer must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
