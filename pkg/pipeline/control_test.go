package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/teslashibe/go-avatarcam/pkg/gui"
	"github.com/teslashibe/go-avatarcam/pkg/protocol"
	"github.com/teslashibe/go-avatarcam/pkg/retarget"
)

type fakeSwitcher struct {
	mu       sync.Mutex
	device   string
	switches []string
	err      error
}

func (s *fakeSwitcher) Switch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switches = append(s.switches, id)
	if s.err != nil {
		return s.err
	}
	s.device = id
	return nil
}

func (s *fakeSwitcher) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

type statusLog struct {
	mu     sync.Mutex
	levels []protocol.Level
}

func (l *statusLog) report(level protocol.Level, _, _ string, _ error) {
	l.mu.Lock()
	l.levels = append(l.levels, level)
	l.mu.Unlock()
}

func newController(t *testing.T, sw *fakeSwitcher, status *statusLog) (*Controller, *gui.Store, *retarget.Skeleton) {
	t.Helper()
	lib, err := retarget.NewLibrary()
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	store, err := gui.NewStore(gui.DefaultState())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	skel := retarget.NewSkeleton(0.1)
	c := NewController(context.Background(), sw, lib, skel, status.report)
	if err := c.Attach(store); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return c, store, skel
}

func TestController_BindsInitialAvatar(t *testing.T) {
	_, _, skel := newController(t, &fakeSwitcher{}, &statusLog{})
	if b := skel.Bound(); b == nil || b.Name != "girl" {
		t.Errorf("Bound = %v, want girl", b)
	}
}

func TestController_AvatarChange(t *testing.T) {
	_, store, skel := newController(t, &fakeSwitcher{}, &statusLog{})

	if err := store.Update(map[string]interface{}{"image.avatar": "boy"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if b := skel.Bound(); b == nil || b.Name != "boy" {
		t.Errorf("Bound = %v, want boy", b)
	}
}

func TestController_CameraSwitch(t *testing.T) {
	sw := &fakeSwitcher{device: "0"}
	status := &statusLog{}
	c, store, _ := newController(t, sw, status)

	store.Update(map[string]interface{}{"camera.device": "2"})
	c.Wait()

	if sw.Device() != "2" {
		t.Errorf("device = %q, want 2", sw.Device())
	}
	if len(status.levels) != 1 || status.levels[0] != protocol.LevelInfo {
		t.Errorf("status = %v, want one info", status.levels)
	}
}

func TestController_CameraSwitchFailureReported(t *testing.T) {
	sw := &fakeSwitcher{device: "0", err: errors.New("device busy")}
	status := &statusLog{}
	c, store, _ := newController(t, sw, status)

	store.Update(map[string]interface{}{"camera.device": "/dev/video4"})
	c.Wait()

	if len(sw.switches) != 1 {
		t.Errorf("switch attempts = %d, want 1 (no retry)", len(sw.switches))
	}
	if len(status.levels) != 1 || status.levels[0] != protocol.LevelError {
		t.Errorf("status = %v, want one error", status.levels)
	}
}

func TestController_SameDeviceIgnored(t *testing.T) {
	sw := &fakeSwitcher{device: "0"}
	c, _, _ := newController(t, sw, &statusLog{})

	c.SwitchCamera("0")
	c.Wait()
	if len(sw.switches) != 0 {
		t.Error("switching to the active device should be a no-op")
	}
}

func TestController_RetryAfterFailedSwitch(t *testing.T) {
	sw := &fakeSwitcher{device: "0", err: errors.New("device busy")}
	c, store, _ := newController(t, sw, &statusLog{})

	store.Update(map[string]interface{}{"camera.device": "4"})
	c.Wait()
	if got := store.Load().Camera.Device; got != "0" {
		t.Errorf("camera.device after failure = %q, want 0", got)
	}

	store.Update(map[string]interface{}{"camera.device": "4"})
	c.Wait()
	if len(sw.switches) != 2 {
		t.Errorf("switch attempts = %v, want 4 tried twice", sw.switches)
	}
}
