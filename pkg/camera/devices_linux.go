//go:build linux

package camera

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// sysfsRoot is where the kernel lists V4L2 nodes. Overridden in tests.
var sysfsRoot = "/sys/class/video4linux"

// enumerate reads V4L2 nodes from sysfs. UVC cameras expose a metadata node
// next to the capture node; only index 0 of each physical device is a capture node.
func enumerate(ctx context.Context) ([]Device, error) {
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var devices []Device
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		name := e.Name()
		if !strings.HasPrefix(name, "video") {
			continue
		}
		dir := filepath.Join(sysfsRoot, name)

		if idx := readTrimmed(filepath.Join(dir, "index")); idx != "" && idx != "0" {
			continue
		}

		label := readTrimmed(filepath.Join(dir, "name"))
		if label == "" {
			label = name
		}
		devices = append(devices, Device{
			Label:    label,
			DeviceID: strings.TrimPrefix(name, "video"),
		})
	}
	return devices, nil
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
