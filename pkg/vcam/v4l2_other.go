//go:build !linux

package vcam

import "time"

// V4L2 is only available on Linux.
type V4L2 struct {
	path string
}

// NewV4L2 returns a device whose Start always fails.
func NewV4L2(path string) *V4L2 {
	return &V4L2{path: path}
}

// Start implements Device.
func (d *V4L2) Start(width, height, fps int, delay time.Duration) error {
	return &DeviceError{Op: "open", Device: d.path, Err: ErrUnsupported}
}

// Send implements Device.
func (d *V4L2) Send(FrameIndex, []byte) error { return ErrNotStarted }

// Stop implements Device.
func (d *V4L2) Stop() error { return nil }
