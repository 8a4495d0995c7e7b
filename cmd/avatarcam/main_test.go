package main

import (
	"testing"
	"time"

	"github.com/teslashibe/go-avatarcam/internal/config"
)

func TestParseRelayTarget(t *testing.T) {
	tests := []struct {
		target    string
		transport string
		url       string
		shm       string
		wantErr   bool
	}{
		{"ws://10.0.0.2:9090/ws/frame", config.RelayWS, "ws://10.0.0.2:9090/ws/frame", "", false},
		{"wss://host/ws/frame", config.RelayWS, "wss://host/ws/frame", "", false},
		{"shm:/dev/shm/cam", config.RelayShm, "", "/dev/shm/cam", false},
		{"shm:", "", "", "", true},
		{"local", "", "", "", true},
		{"", "", "", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.target, func(t *testing.T) {
			var rc config.RelayConfig
			err := parseRelayTarget(tc.target, &rc)
			if (err != nil) != tc.wantErr {
				t.Fatalf("parseRelayTarget(%q) error = %v, wantErr %v", tc.target, err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			if rc.Transport != tc.transport || rc.URL != tc.url || rc.ShmPath != tc.shm {
				t.Errorf("relay config = %+v", rc)
			}
		})
	}
}

func TestFlagOverrides(t *testing.T) {
	c := config.Default()
	if err := runCmd.ParseFlags([]string{
		"--avatar", "boy",
		"--no-mirror",
		"--output", "none",
		"--fps", "15",
		"--delay", "2s",
		"--no-web",
	}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	runRender.apply(runCmd, c)
	runOutput.apply(runCmd, c)
	runWeb.apply(runCmd, c)

	if c.Render.Avatar != "boy" {
		t.Errorf("avatar = %q", c.Render.Avatar)
	}
	if c.Camera.Mirror {
		t.Error("mirror should be off")
	}
	if c.Output.Device != config.OutputNone || c.Output.FPS != 15 || c.Output.Delay != 2*time.Second {
		t.Errorf("output = %+v", c.Output)
	}
	if c.Web.Enabled {
		t.Error("web should be disabled")
	}
	// untouched flags keep config values
	if c.Render.RefreshRate != config.Default().Render.RefreshRate {
		t.Errorf("refresh rate = %d", c.Render.RefreshRate)
	}
}
