package vcam

import (
	"errors"
	"time"
)

// Tee sends every frame to several devices.
type Tee struct {
	devices []Device
	started []Device
}

// NewTee combines devices. Frames reach them in the order given.
func NewTee(devices ...Device) *Tee {
	return &Tee{devices: devices}
}

// Start implements Device. If any device fails, those already started are
// stopped again.
func (t *Tee) Start(width, height, fps int, delay time.Duration) error {
	for _, d := range t.devices {
		if err := d.Start(width, height, fps, delay); err != nil {
			for _, s := range t.started {
				s.Stop()
			}
			t.started = nil
			return err
		}
		t.started = append(t.started, d)
	}
	return nil
}

// Send implements Device. A failing device does not keep the others from
// receiving the frame.
func (t *Tee) Send(idx FrameIndex, rgba []byte) error {
	var errs []error
	for _, d := range t.started {
		if err := d.Send(idx, rgba); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop implements Device.
func (t *Tee) Stop() error {
	var errs []error
	for _, d := range t.started {
		if err := d.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	t.started = nil
	return errors.Join(errs...)
}
