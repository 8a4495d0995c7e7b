//go:build linux

package vcam

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/teslashibe/go-avatarcam/internal/log"
	"golang.org/x/sys/unix"
)

// V4L2 constants for a v4l2loopback output node.
const (
	vidiocSFmt          = 0xc0d05605 // _IOWR('V', 5, struct v4l2_format), 64-bit
	v4l2BufTypeOutput   = 2
	v4l2FieldNone       = 1
	v4l2PixFmtYUYV      = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24
	v4l2ColorspaceSRGB  = 8
	v4l2FormatSize      = 208
	v4l2PixFormatOffset = 8
)

// V4L2 writes frames to a v4l2loopback device such as /dev/video10.
type V4L2 struct {
	path   string
	logger *slog.Logger

	mu            sync.Mutex
	fd            int
	width, height int
	buf           []byte
}

// NewV4L2 creates a device for path. Nothing is opened until Start.
func NewV4L2(path string) *V4L2 {
	return &V4L2{
		path:   path,
		fd:     -1,
		logger: log.Component("v4l2").With("device", path),
	}
}

// Start implements Device. delay is not supported by v4l2loopback and is
// only logged.
func (d *V4L2) Start(width, height, fps int, delay time.Duration) error {
	if width%2 != 0 {
		return &DeviceError{Op: "start", Device: d.path, Err: fmt.Errorf("YUYV needs an even width, got %d", width)}
	}

	fd, err := unix.Open(d.path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return &DeviceError{Op: "open", Device: d.path, Err: err}
	}

	var format [v4l2FormatSize]byte
	pix := format[v4l2PixFormatOffset:]
	binary.NativeEndian.PutUint32(format[0:], v4l2BufTypeOutput)
	binary.NativeEndian.PutUint32(pix[0:], uint32(width))
	binary.NativeEndian.PutUint32(pix[4:], uint32(height))
	binary.NativeEndian.PutUint32(pix[8:], v4l2PixFmtYUYV)
	binary.NativeEndian.PutUint32(pix[12:], v4l2FieldNone)
	binary.NativeEndian.PutUint32(pix[16:], uint32(width*2))
	binary.NativeEndian.PutUint32(pix[20:], uint32(width*height*2))
	binary.NativeEndian.PutUint32(pix[24:], v4l2ColorspaceSRGB)

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), vidiocSFmt, uintptr(unsafe.Pointer(&format[0]))); errno != 0 {
		unix.Close(fd)
		return &DeviceError{Op: "set format", Device: d.path, Err: errno}
	}

	d.mu.Lock()
	d.fd = fd
	d.width, d.height = width, height
	d.buf = make([]byte, width*height*2)
	d.mu.Unlock()

	d.logger.Info("v4l2 output configured", "width", width, "height", height, "fps", fps, "delay", delay)
	return nil
}

// Send implements Device.
func (d *V4L2) Send(idx FrameIndex, rgba []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return ErrNotStarted
	}
	if len(rgba) != d.width*d.height*4 {
		return fmt.Errorf("%w: %d bytes for %dx%d", ErrResolutionMismatch, len(rgba), d.width, d.height)
	}
	RGBAToYUYV(d.buf, rgba, d.width, d.height)
	if _, err := unix.Write(d.fd, d.buf); err != nil {
		return &DeviceError{Op: "write", Device: d.path, Err: err}
	}
	return nil
}

// Stop implements Device.
func (d *V4L2) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}
