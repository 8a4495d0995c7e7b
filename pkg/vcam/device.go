// Package vcam feeds composited frames to a virtual camera at a fixed rate.
package vcam

import (
	"errors"
	"fmt"
	"time"
)

// FrameIndex numbers emitted frames. It starts at 0 and increases by one
// per emission.
type FrameIndex uint64

// Device is an output that accepts RGBA frames of a fixed size.
type Device interface {
	// Start opens the device for width x height frames at fps. delay is
	// the start-up latency the consumer should expect.
	Start(width, height, fps int, delay time.Duration) error
	Send(idx FrameIndex, rgba []byte) error
	Stop() error
}

var (
	// ErrResolutionMismatch is raised when a frame's size differs from the
	// size the device was started with.
	ErrResolutionMismatch = errors.New("vcam: frame resolution mismatch")

	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("vcam: emitter stopped")

	// ErrNotStarted is returned by Send before Start.
	ErrNotStarted = errors.New("vcam: device not started")

	// ErrUnsupported is returned by devices unavailable on this platform.
	ErrUnsupported = errors.New("vcam: device not supported on this platform")
)

// DeviceError wraps a device failure with the operation that caused it.
type DeviceError struct {
	Op     string
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("vcam: %s %s: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
