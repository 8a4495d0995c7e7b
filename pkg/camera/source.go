package camera

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-avatarcam/internal/log"
	"github.com/teslashibe/go-avatarcam/pkg/frame"
	"gocv.io/x/gocv"
)

// FirstFrameTimeout bounds how long Open and Switch wait for a new device to deliver a frame.
const FirstFrameTimeout = 5 * time.Second

// Capturer is the subset of gocv.VideoCapture used by Source.
type Capturer interface {
	Read(m *gocv.Mat) bool
	IsOpened() bool
	Close() error
}

// OpenFunc opens a capture device.
type OpenFunc func(deviceID string, cfg Config) (Capturer, error)

// Source is a switchable webcam stream.
//
// Read is called from the render loop. Switch may be called from any goroutine;
// while it runs Read fails fast with ErrSwitching so the loop can skip the tick.
type Source struct {
	cfg    Config
	open   OpenFunc
	logger *slog.Logger

	switchMu  sync.Mutex // serializes Open/Switch/Close
	mu        sync.RWMutex
	capture   Capturer
	device    string
	session   string
	raw       gocv.Mat
	switching atomic.Bool
}

// NewSource creates a source that opens devices with gocv.
func NewSource(cfg Config) *Source {
	return NewSourceWithOpener(cfg, OpenDevice)
}

// NewSourceWithOpener creates a source with a custom device opener.
func NewSourceWithOpener(cfg Config, open OpenFunc) *Source {
	return &Source{
		cfg:    cfg,
		open:   open,
		logger: log.Component("camera"),
		raw:    gocv.NewMat(),
	}
}

// OpenDevice opens a numeric device index ("0") or a path/URL with gocv and
// requests the configured size and frame rate.
func OpenDevice(deviceID string, cfg Config) (Capturer, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if deviceID == "" {
		deviceID = "0"
	}
	if idx, convErr := strconv.Atoi(deviceID); convErr == nil {
		vc, err = gocv.VideoCaptureDevice(idx)
	} else {
		vc, err = gocv.OpenVideoCapture(deviceID)
	}
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("device not opened")
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	return vc, nil
}

// Config returns the capture configuration.
func (s *Source) Config() Config {
	return s.cfg
}

// Device returns the currently open device id, or "" if none.
func (s *Source) Device() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

// Session returns the id of the current capture session. It changes on every switch.
func (s *Source) Session() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Switching reports whether a device switch is in progress.
func (s *Source) Switching() bool {
	return s.switching.Load()
}

// Open opens the initial device. An empty id selects device 0.
func (s *Source) Open(ctx context.Context, deviceID string) error {
	return s.replace(ctx, "open", deviceID)
}

// Switch replaces the current stream with deviceID. Reads fail with
// ErrSwitching until the new device has delivered its first frame.
// On failure the source is left with no device open.
func (s *Source) Switch(ctx context.Context, deviceID string) error {
	return s.replace(ctx, "switch", deviceID)
}

func (s *Source) replace(ctx context.Context, op, deviceID string) error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.switching.Store(true)
	defer s.switching.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture != nil {
		if err := s.capture.Close(); err != nil {
			s.logger.Warn("close previous device", "device", s.device, "error", err)
		}
		s.capture = nil
		s.device = ""
	}

	dev, err := s.open(deviceID, s.cfg)
	if err != nil {
		return &DeviceError{Op: op, Device: deviceID, Err: err}
	}

	if err := s.awaitFirstFrame(ctx, dev); err != nil {
		dev.Close()
		return &DeviceError{Op: op, Device: deviceID, Err: err}
	}

	s.capture = dev
	s.device = deviceID
	s.session = uuid.NewString()
	s.logger.Info("camera ready", "op", op, "device", deviceID, "session", s.session)
	return nil
}

// awaitFirstFrame blocks until the device yields a frame, so the first Read after
// a switch sees valid dimensions.
func (s *Source) awaitFirstFrame(ctx context.Context, dev Capturer) error {
	ctx, cancel := context.WithTimeout(ctx, FirstFrameTimeout)
	defer cancel()

	for {
		if dev.Read(&s.raw) && !s.raw.Empty() {
			return nil
		}
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return ErrFirstFrameTimeout
			}
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// lockForRead takes mu for a Read. It gives up as soon as a switch is in
// progress, since the switch may hold mu until FirstFrameTimeout.
func (s *Source) lockForRead() bool {
	for !s.mu.TryLock() {
		if s.switching.Load() {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}

// Read grabs the next frame into dst, scaled to the configured capture size.
// It never waits on a switch.
func (s *Source) Read(dst *frame.Video) error {
	if s.switching.Load() || !s.lockForRead() {
		return ErrSwitching
	}
	defer s.mu.Unlock()

	if s.capture == nil {
		return ErrNotOpen
	}
	if !s.capture.Read(&s.raw) || s.raw.Empty() {
		return ErrNoFrame
	}

	if s.raw.Cols() != s.cfg.Width || s.raw.Rows() != s.cfg.Height {
		gocv.Resize(s.raw, &dst.Mat, image.Pt(s.cfg.Width, s.cfg.Height), 0, 0, gocv.InterpolationLinear)
	} else {
		s.raw.CopyTo(&dst.Mat)
	}
	dst.Width = dst.Mat.Cols()
	dst.Height = dst.Mat.Rows()
	return nil
}

// Close releases the device and scratch buffers.
func (s *Source) Close() error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.capture != nil {
		err = s.capture.Close()
		s.capture = nil
		s.device = ""
	}
	s.raw.Close()
	return err
}
