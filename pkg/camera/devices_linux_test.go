//go:build linux

package camera

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestEnumerate_Sysfs(t *testing.T) {
	root := t.TempDir()
	write := func(node, file, content string) {
		dir := filepath.Join(root, node)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, file), []byte(content+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("video0", "name", "Integrated Camera")
	write("video0", "index", "0")
	write("video1", "name", "Integrated Camera")
	write("video1", "index", "1")
	write("video10", "name", "AvatarCam")
	write("video10", "index", "0")
	write("video2", "name", "USB Webcam")
	write("video2", "index", "0")

	old := sysfsRoot
	sysfsRoot = root
	defer func() { sysfsRoot = old }()

	devices, err := Enumerate(context.Background())
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}

	want := []Device{
		{Label: "Integrated Camera", DeviceID: "0"},
		{Label: "USB Webcam", DeviceID: "2"},
		{Label: "AvatarCam", DeviceID: "10"},
	}
	if len(devices) != len(want) {
		t.Fatalf("got %d devices %v, want %d", len(devices), devices, len(want))
	}
	for i := range want {
		if devices[i] != want[i] {
			t.Errorf("device %d = %+v, want %+v", i, devices[i], want[i])
		}
	}
}
