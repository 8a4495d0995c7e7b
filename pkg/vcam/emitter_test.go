package vcam

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-avatarcam/pkg/frame"
)

// manualTicker fires only when the test calls tick.
type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

type clock struct {
	mu     sync.Mutex
	ticker *manualTicker
	ready  chan struct{}
}

func newClock() *clock {
	return &clock{ready: make(chan struct{})}
}

func (c *clock) New(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticker = &manualTicker{ch: make(chan time.Time)}
	close(c.ready)
	return c.ticker
}

// tick delivers one tick and waits until the recorder has seen it.
func (c *clock) tick(t *testing.T, rec *Recorder) {
	t.Helper()
	<-c.ready
	want := rec.Total() + 1
	c.ticker.ch <- time.Now()
	if !rec.WaitTotal(want, time.Second) {
		t.Fatalf("emission %d not received", want)
	}
}

func solid(w, h int, v byte) *frame.Composite {
	f := frame.NewComposite(w, h)
	for i := range f.Data {
		f.Data[i] = v
	}
	return f
}

func TestEmitter_StartsOnFirstFrame(t *testing.T) {
	rec := NewRecorder(0)
	clk := newClock()
	em := NewEmitter(rec, Config{FPS: 30}, WithTicker(clk.New))
	defer em.Stop()

	if em.State() != StateUninitialized {
		t.Fatalf("State = %v, want uninitialized", em.State())
	}
	if err := em.Submit(solid(320, 180, 1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if em.State() != StateRunning {
		t.Errorf("State = %v, want running", em.State())
	}

	w, h, fps, delay := rec.Format()
	if w != 320 || h != 180 || fps != 30 || delay != 0 {
		t.Errorf("Start(%d, %d, %d, %v), want 320x180 at 30", w, h, fps, delay)
	}

	em.Submit(solid(320, 180, 2))
	if rec.Starts() != 1 {
		t.Errorf("device started %d times, want 1", rec.Starts())
	}
}

func TestEmitter_IndexIncreasesByOne(t *testing.T) {
	rec := NewRecorder(0)
	clk := newClock()
	em := NewEmitter(rec, Config{FPS: 30}, WithTicker(clk.New))
	defer em.Stop()

	em.Submit(solid(4, 2, 0))
	for i := 0; i < 20; i++ {
		if i%3 == 0 {
			em.Submit(solid(4, 2, byte(i)))
		}
		clk.tick(t, rec)
	}

	got := rec.Emissions()
	if len(got) != 20 {
		t.Fatalf("emissions = %d, want 20", len(got))
	}
	for i, e := range got {
		if e.Index != FrameIndex(i) {
			t.Fatalf("emission %d has index %d", i, e.Index)
		}
	}
	if s := em.Stats(); s.NextIndex != 20 || s.Emitted != 20 {
		t.Errorf("stats = %+v", s)
	}
}

func TestEmitter_DuplicateOnStall(t *testing.T) {
	rec := NewRecorder(0)
	clk := newClock()
	em := NewEmitter(rec, Config{FPS: 30}, WithTicker(clk.New))
	defer em.Stop()

	em.Submit(solid(4, 2, 7))
	clk.tick(t, rec)
	clk.tick(t, rec)

	em.Submit(solid(4, 2, 8))
	em.Submit(solid(4, 2, 9)) // overwrites 8 before the next tick
	clk.tick(t, rec)

	got := rec.Emissions()
	if !bytes.Equal(got[0].Data, got[1].Data) {
		t.Error("stalled tick should repeat the previous payload byte for byte")
	}
	if got[2].Data[0] != 9 {
		t.Errorf("third emission = %d, want latest frame 9", got[2].Data[0])
	}
	if s := em.Stats(); s.Duplicates != 1 || s.Received != 3 {
		t.Errorf("stats = %+v, want 1 duplicate and 3 received", s)
	}
}

func TestEmitter_ResolutionMismatchIsFatalOnce(t *testing.T) {
	rec := NewRecorder(0)
	clk := newClock()
	var fatals atomic.Int32
	var fatalErr error
	em := NewEmitter(rec, Config{FPS: 30}, WithTicker(clk.New), WithFatal(func(err error) {
		fatals.Add(1)
		fatalErr = err
	}))
	defer em.Stop()

	for i := 0; i < 5; i++ {
		if err := em.Submit(solid(320, 180, 1)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	clk.tick(t, rec)

	err := em.Submit(solid(321, 180, 1))
	if !errors.Is(err, ErrResolutionMismatch) {
		t.Fatalf("Submit 321 wide = %v, want ErrResolutionMismatch", err)
	}
	if err := em.Submit(solid(321, 180, 1)); !errors.Is(err, ErrResolutionMismatch) {
		t.Errorf("later Submit = %v, want the recorded failure", err)
	}
	em.Submit(solid(320, 180, 1))

	if n := fatals.Load(); n != 1 {
		t.Errorf("OnFatal called %d times, want 1", n)
	}
	if !errors.Is(fatalErr, ErrResolutionMismatch) {
		t.Errorf("fatal error = %v", fatalErr)
	}
	if em.State() != StateFailed {
		t.Errorf("State = %v, want failed", em.State())
	}

	before := rec.Total()
	time.Sleep(20 * time.Millisecond)
	if rec.Total() != before {
		t.Error("no emission expected after failure")
	}
}

func TestEmitter_DeviceStartFailure(t *testing.T) {
	rec := NewRecorder(0)
	rec.StartErr = errors.New("no such device")
	var fatals atomic.Int32
	em := NewEmitter(rec, Config{}, WithFatal(func(error) { fatals.Add(1) }))

	err := em.Submit(solid(4, 2, 1))
	var devErr *DeviceError
	if !errors.As(err, &devErr) || devErr.Op != "start" {
		t.Fatalf("Submit = %v, want start DeviceError", err)
	}
	em.Submit(solid(4, 2, 1))

	if fatals.Load() != 1 {
		t.Errorf("OnFatal called %d times, want 1", fatals.Load())
	}
	if err := em.Stop(); err != nil {
		t.Errorf("Stop = %v", err)
	}
	if rec.Stops() != 0 {
		t.Error("device that never started should not be stopped")
	}
}

func TestEmitter_StopOnce(t *testing.T) {
	rec := NewRecorder(0)
	clk := newClock()
	em := NewEmitter(rec, Config{FPS: 30}, WithTicker(clk.New))

	em.Submit(solid(4, 2, 1))
	clk.tick(t, rec)

	if err := em.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	em.Stop()

	if rec.Stops() != 1 {
		t.Errorf("device stopped %d times, want 1", rec.Stops())
	}
	if !clk.ticker.stopped.Load() {
		t.Error("ticker should be stopped")
	}
	if em.State() != StateStopped {
		t.Errorf("State = %v, want stopped", em.State())
	}
	if err := em.Submit(solid(4, 2, 1)); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit after stop = %v, want ErrStopped", err)
	}
}

func TestEmitter_StopBeforeStart(t *testing.T) {
	rec := NewRecorder(0)
	em := NewEmitter(rec, Config{})
	if err := em.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.Starts() != 0 || rec.Stops() != 0 {
		t.Error("device should not be touched")
	}
}

func TestEmitter_SendErrorsCounted(t *testing.T) {
	rec := NewRecorder(0)
	clk := newClock()
	em := NewEmitter(rec, Config{FPS: 30}, WithTicker(clk.New))
	defer em.Stop()

	em.Submit(solid(4, 2, 1))
	<-clk.ready
	rec.mu.Lock()
	rec.SendErr = errors.New("busy")
	rec.mu.Unlock()
	clk.ticker.ch <- time.Now()
	clk.ticker.ch <- time.Now() // second send blocks until the first was handled

	if s := em.Stats(); s.SendErrors < 1 {
		t.Errorf("SendErrors = %d, want at least 1", s.SendErrors)
	}
}

func TestEmitter_RealTicker(t *testing.T) {
	rec := NewRecorder(0)
	em := NewEmitter(rec, Config{FPS: 100})
	em.Submit(solid(2, 2, 1))

	if !rec.WaitTotal(5, 2*time.Second) {
		t.Fatalf("only %d emissions", rec.Total())
	}
	em.Stop()
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateUninitialized, "uninitialized"},
		{StateRunning, "running"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{State(9), "state(9)"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			if got := tc.s.String(); got != tc.want {
				t.Errorf("String() = %q", got)
			}
		})
	}
}
