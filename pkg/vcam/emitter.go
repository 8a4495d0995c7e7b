package vcam

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-avatarcam/internal/log"
	"github.com/teslashibe/go-avatarcam/pkg/debug"
	"github.com/teslashibe/go-avatarcam/pkg/frame"
)

// DefaultFPS is the emission rate when Config.FPS is unset.
const DefaultFPS = 30

// State is the emitter lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateRunning
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText lets State appear by name in JSON stats.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config sets the output rate.
type Config struct {
	FPS   int           `json:"fps" yaml:"fps"`
	Delay time.Duration `json:"delay" yaml:"delay"`
}

// Ticker delivers emission ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker with the given period.
type TickerFunc func(period time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker is the default TickerFunc.
func NewTimeTicker(period time.Duration) Ticker {
	return timeTicker{time.NewTicker(period)}
}

// Stats describes emitter activity.
type Stats struct {
	State      State      `json:"state"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Received   uint64     `json:"received"`
	Emitted    uint64     `json:"emitted"`
	Duplicates uint64     `json:"duplicates"`
	SendErrors uint64     `json:"send_errors"`
	NextIndex  FrameIndex `json:"next_index"`
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithFatal sets the handler called once when the emitter fails.
func WithFatal(fn func(error)) Option {
	return func(e *Emitter) { e.onFatal = fn }
}

// WithTicker replaces the emission clock.
func WithTicker(fn TickerFunc) Option {
	return func(e *Emitter) { e.newTicker = fn }
}

// Emitter owns a Device and sends it the most recent frame on every tick.
//
// Submit only overwrites a single slot; ticks never wait for a new frame and
// repeat the previous one instead. The first frame fixes the resolution for
// the session.
type Emitter struct {
	dev       Device
	cfg       Config
	newTicker TickerFunc
	onFatal   func(error)
	logger    *slog.Logger

	mu            sync.Mutex
	state         State
	width, height int
	latest        []byte
	fresh         bool
	next          FrameIndex
	started       bool // device Start succeeded
	err           error

	quit      chan struct{}
	quitOnce  sync.Once
	stopOnce  sync.Once
	fatalOnce sync.Once
	wg        sync.WaitGroup

	received, emitted, duplicates, sendErrors atomic.Uint64
}

// NewEmitter creates an emitter in the Uninitialized state.
func NewEmitter(dev Device, cfg Config, opts ...Option) *Emitter {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	e := &Emitter{
		dev:       dev,
		cfg:       cfg,
		newTicker: NewTimeTicker,
		logger:    log.Component("emitter"),
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit stores f as the latest frame. The first call starts the device
// and the emission loop. A frame with a different size fails the emitter.
//
// The emitter takes ownership of f.Data.
func (e *Emitter) Submit(f *frame.Composite) error {
	e.mu.Lock()

	switch e.state {
	case StateStopped:
		e.mu.Unlock()
		return ErrStopped
	case StateFailed:
		err := e.err
		e.mu.Unlock()
		return err
	case StateUninitialized:
		if err := f.Validate(); err != nil {
			e.mu.Unlock()
			return err
		}
		if err := e.dev.Start(f.Width, f.Height, e.cfg.FPS, e.cfg.Delay); err != nil {
			err = &DeviceError{Op: "start", Device: fmt.Sprintf("%T", e.dev), Err: err}
			e.failLocked(err)
			e.mu.Unlock()
			e.fatal(err)
			return err
		}
		e.started = true
		e.width, e.height = f.Width, f.Height
		e.state = StateRunning
		e.wg.Add(1)
		go e.loop()
		e.logger.Info("virtual camera output started",
			"width", f.Width, "height", f.Height, "fps", e.cfg.FPS)
	case StateRunning:
		if f.Width != e.width || f.Height != e.height {
			err := fmt.Errorf("%w: received %dx%d, session is %dx%d",
				ErrResolutionMismatch, f.Width, f.Height, e.width, e.height)
			e.failLocked(err)
			e.mu.Unlock()
			e.fatal(err)
			return err
		}
	}

	e.latest = f.Data
	e.fresh = true
	e.mu.Unlock()
	e.received.Add(1)
	return nil
}

// failLocked moves to Failed and stops emission. e.mu must be held.
func (e *Emitter) failLocked(err error) {
	e.state = StateFailed
	e.err = err
	e.stopLoop()
}

func (e *Emitter) fatal(err error) {
	e.fatalOnce.Do(func() {
		e.logger.Error("virtual camera failed", "error", err)
		if e.onFatal != nil {
			e.onFatal(err)
		}
	})
}

func (e *Emitter) stopLoop() {
	e.quitOnce.Do(func() { close(e.quit) })
}

func (e *Emitter) loop() {
	defer e.wg.Done()

	if e.cfg.Delay > 0 {
		select {
		case <-time.After(e.cfg.Delay):
		case <-e.quit:
			return
		}
	}

	ticker := e.newTicker(time.Second / time.Duration(e.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-e.quit:
			return
		case <-ticker.C():
			e.emit()
		}
	}
}

// emit sends the latest frame once. Only the loop goroutine calls it, so
// indices reach the device in order.
func (e *Emitter) emit() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	data := e.latest
	dup := !e.fresh
	e.fresh = false
	idx := e.next
	e.next++
	e.mu.Unlock()

	if dup {
		e.duplicates.Add(1)
	}
	if err := e.dev.Send(idx, data); err != nil {
		e.sendErrors.Add(1)
		e.logger.Warn("virtual camera send failed", "index", idx, "error", err)
		return
	}
	e.emitted.Add(1)
	debug.FrameLog("emitted frame", "index", idx, "duplicate", dup)
}

// Stop halts emission and releases the device. Only the first call has
// any effect.
func (e *Emitter) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		e.mu.Lock()
		if e.state != StateFailed {
			e.state = StateStopped
		}
		e.stopLoop()
		started := e.started
		e.mu.Unlock()

		e.wg.Wait()
		if started {
			err = e.dev.Stop()
		}
		e.logger.Info("virtual camera output stopped", "emitted", e.emitted.Load())
	})
	return err
}

// State returns the lifecycle state.
func (e *Emitter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the failure that moved the emitter to Failed, if any.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Stats returns a snapshot of emitter counters.
func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	s := Stats{
		State:     e.state,
		Width:     e.width,
		Height:    e.height,
		NextIndex: e.next,
	}
	e.mu.Unlock()
	s.Received = e.received.Load()
	s.Emitted = e.emitted.Load()
	s.Duplicates = e.duplicates.Load()
	s.SendErrors = e.sendErrors.Load()
	return s
}
