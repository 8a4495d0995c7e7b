package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Camera.Width != 320 || cfg.Camera.Height != 180 {
		t.Errorf("camera = %dx%d, want 320x180", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.Output.FPS != 30 || cfg.Output.Delay != 0 {
		t.Errorf("output fps/delay = %d/%v, want 30/0", cfg.Output.FPS, cfg.Output.Delay)
	}
	if cfg.Detection.MinPoseConfidence != 0.15 {
		t.Errorf("min pose confidence = %v, want 0.15", cfg.Detection.MinPoseConfidence)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	chdir(t, t.TempDir())

	path := filepath.Join(t.TempDir(), "avatarcam.yaml")
	yamlDoc := `
log_level: debug
camera:
  width: 640
  height: 360
  framerate: 30
  mirror: false
output:
  device: preview
  fps: 24
  delay: 150ms
relay:
  transport: shm
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AVATARCAM_FPS", "15")
	t.Setenv("AVATARCAM_AVATAR", "boy")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.Camera.Width != 640 || cfg.Camera.Mirror {
		t.Errorf("camera = %+v", cfg.Camera)
	}
	if cfg.Output.Device != OutputPreview {
		t.Errorf("output device = %q", cfg.Output.Device)
	}
	if cfg.Output.FPS != 15 {
		t.Errorf("env should override yaml fps, got %d", cfg.Output.FPS)
	}
	if cfg.Output.Delay != 150*time.Millisecond {
		t.Errorf("delay = %v", cfg.Output.Delay)
	}
	if cfg.Relay.Transport != RelayShm {
		t.Errorf("relay = %q", cfg.Relay.Transport)
	}
	if cfg.Render.Avatar != "boy" {
		t.Errorf("avatar = %q", cfg.Render.Avatar)
	}
	// untouched sections keep defaults
	if cfg.Canvas.Width != 640 || cfg.Canvas.Height != 360 {
		t.Errorf("canvas = %+v", cfg.Canvas)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(".env", []byte("AVATARCAM_RELAY=ws\nAVATARCAM_RELAY_URL=ws://10.0.0.2:9090/ws/frame\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AVATARCAM_RELAY", "")
	t.Setenv("AVATARCAM_RELAY_URL", "")
	os.Unsetenv("AVATARCAM_RELAY")
	os.Unsetenv("AVATARCAM_RELAY_URL")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.Transport != RelayWS {
		t.Errorf("relay = %q, want ws", cfg.Relay.Transport)
	}
	if cfg.Relay.URL != "ws://10.0.0.2:9090/ws/frame" {
		t.Errorf("relay url = %q", cfg.Relay.URL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad output", func(c *Config) { c.Output.Device = "obs" }, "output device"},
		{"bad relay", func(c *Config) { c.Relay.Transport = "carrier-pigeon" }, "relay transport"},
		{"zero fps", func(c *Config) { c.Output.FPS = 0 }, "output fps"},
		{"negative delay", func(c *Config) { c.Output.Delay = -time.Second }, "delay"},
		{"threshold above one", func(c *Config) { c.Detection.MinPoseConfidence = 1.5 }, "min_pose_confidence"},
		{"camera too small", func(c *Config) { c.Camera.Width = 10 }, "width"},
		{"empty canvas", func(c *Config) { c.Canvas.Width = 0 }, "canvas"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q should mention %q", err, tc.want)
			}
		})
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+): switch to dir and restore the
// previous working directory when the test ends.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(prev) })
}
