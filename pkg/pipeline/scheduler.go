package pipeline

import (
	"context"
	"time"
)

// DefaultRefreshRate is the display refresh rate VSync assumes.
const DefaultRefreshRate = 60

// Scheduler paces the render loop. WaitFrame blocks until the next frame
// should start.
type Scheduler interface {
	WaitFrame(ctx context.Context) error
}

// VSync releases one frame per display refresh. A tick that overruns its
// slot waits for the next refresh boundary; missed refreshes are not made up.
type VSync struct {
	period time.Duration
	next   time.Time
	now    func() time.Time
}

// NewVSync creates a scheduler for a display refreshing hz times a second.
func NewVSync(hz int) *VSync {
	if hz <= 0 {
		hz = DefaultRefreshRate
	}
	return &VSync{
		period: time.Second / time.Duration(hz),
		now:    time.Now,
	}
}

// Period returns the refresh interval.
func (v *VSync) Period() time.Duration {
	return v.period
}

// WaitFrame implements Scheduler. The first call returns immediately.
func (v *VSync) WaitFrame(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := v.now()
	if v.next.IsZero() {
		v.next = now
		return nil
	}

	v.next = v.next.Add(v.period)
	if late := now.Sub(v.next); late > 0 {
		v.next = v.next.Add((late/v.period + 1) * v.period)
	}

	timer := time.NewTimer(v.next.Sub(now))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Immediate starts every frame as soon as the previous one finishes.
type Immediate struct{}

// WaitFrame implements Scheduler.
func (Immediate) WaitFrame(ctx context.Context) error {
	return ctx.Err()
}
