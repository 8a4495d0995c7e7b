package camera

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Source.
var (
	// ErrSwitching is returned by Read while a device switch is in progress.
	ErrSwitching = errors.New("camera: switching device")

	// ErrNotOpen is returned by Read before a device has been opened.
	ErrNotOpen = errors.New("camera: no device open")

	// ErrNoFrame is returned when the device delivered no decodable frame.
	ErrNoFrame = errors.New("camera: no frame available")

	// ErrFirstFrameTimeout is returned when an opened device never delivers a frame.
	ErrFirstFrameTimeout = errors.New("camera: timed out waiting for first frame")
)

// DeviceError describes a failure to open, switch, or enumerate a capture device.
type DeviceError struct {
	Op     string // "open", "switch", "enumerate"
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("camera %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("camera %s %q: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
