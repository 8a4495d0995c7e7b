package vcam

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePublisher struct {
	mu      sync.Mutex
	clients bool
	sent    [][]byte
}

func (p *fakePublisher) HasClients() bool { return p.clients }

func (p *fakePublisher) BroadcastBinary(data []byte) {
	p.mu.Lock()
	p.sent = append(p.sent, data)
	p.mu.Unlock()
}

func TestTee_FansOut(t *testing.T) {
	a, b := NewRecorder(0), NewRecorder(0)
	tee := NewTee(a, b)

	if err := tee.Start(4, 2, 30, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tee.Send(0, []byte{1})
	tee.Send(1, []byte{2})
	tee.Stop()

	for name, r := range map[string]*Recorder{"a": a, "b": b} {
		if r.Total() != 2 || r.Stops() != 1 {
			t.Errorf("%s: total %d stops %d", name, r.Total(), r.Stops())
		}
	}
}

func TestTee_StartFailureRollsBack(t *testing.T) {
	a, b := NewRecorder(0), NewRecorder(0)
	b.StartErr = errors.New("busy")
	tee := NewTee(a, b)

	if err := tee.Start(4, 2, 30, 0); err == nil {
		t.Fatal("expected start error")
	}
	if a.Stops() != 1 {
		t.Error("started device should be stopped after a later failure")
	}
}

func TestTee_SendErrorDoesNotBlockOthers(t *testing.T) {
	a, b := NewRecorder(0), NewRecorder(0)
	a.SendErr = errors.New("full")
	tee := NewTee(a, b)
	tee.Start(4, 2, 30, 0)

	if err := tee.Send(0, []byte{1}); err == nil {
		t.Error("expected joined send error")
	}
	if b.Total() != 1 {
		t.Error("healthy device should still receive the frame")
	}
}

func TestRecorder_Limit(t *testing.T) {
	r := NewRecorder(2)
	if err := r.Send(0, nil); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Send before Start = %v", err)
	}
	r.Start(2, 2, 30, 0)
	for i := 0; i < 5; i++ {
		r.Send(FrameIndex(i), []byte{byte(i)})
	}
	got := r.Emissions()
	if len(got) != 2 || got[0].Index != 3 || got[1].Index != 4 {
		t.Errorf("retained %+v, want indices 3 and 4", got)
	}
	if r.Total() != 5 {
		t.Errorf("Total = %d, want 5", r.Total())
	}
}

func TestPreview_SkipsWithoutClients(t *testing.T) {
	pub := &fakePublisher{}
	p := NewPreview(pub, 0, 0)

	if err := p.Send(0, make([]byte, 16)); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Send before Start = %v", err)
	}
	p.Start(2, 2, 30, 0)
	if err := p.Send(0, make([]byte, 16)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(pub.sent) != 0 {
		t.Error("nothing should be encoded without clients")
	}
}

func TestPreview_PublishesJPEG(t *testing.T) {
	pub := &fakePublisher{clients: true}
	p := NewPreview(pub, 80, 0)
	p.Start(16, 8, 30, 0)

	if err := p.Send(0, bytes.Repeat([]byte{200, 10, 10, 255}, 16*8)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("published %d images, want 1", len(pub.sent))
	}
	if jpeg := pub.sent[0]; len(jpeg) < 4 || jpeg[0] != 0xFF || jpeg[1] != 0xD8 {
		t.Error("published payload is not a JPEG")
	}
}

func TestPreview_RateLimit(t *testing.T) {
	pub := &fakePublisher{clients: true}
	p := NewPreview(pub, 0, 1)
	p.Start(2, 2, 30, 0)

	for i := 0; i < 5; i++ {
		p.Send(FrameIndex(i), make([]byte, 16))
	}
	if len(pub.sent) != 1 {
		t.Errorf("published %d images within one second, want 1", len(pub.sent))
	}
}

func TestEncodeJPEG_SizeMismatch(t *testing.T) {
	if _, err := EncodeJPEG(make([]byte, 10), 2, 2, 70); err == nil {
		t.Error("expected error for short buffer")
	}
}

func TestRGBAToYUYV(t *testing.T) {
	tests := []struct {
		name  string
		rgba  []byte
		wantY byte
		wantU byte
		wantV byte
	}{
		{"black", []byte{0, 0, 0, 255, 0, 0, 0, 255}, 16, 128, 128},
		{"white", []byte{255, 255, 255, 255, 255, 255, 255, 255}, 235, 128, 128},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dst := make([]byte, 4)
			RGBAToYUYV(dst, tc.rgba, 2, 1)
			if dst[0] != tc.wantY || dst[2] != tc.wantY {
				t.Errorf("Y = %d,%d, want %d", dst[0], dst[2], tc.wantY)
			}
			if dst[1] != tc.wantU || dst[3] != tc.wantV {
				t.Errorf("U,V = %d,%d, want %d,%d", dst[1], dst[3], tc.wantU, tc.wantV)
			}
		})
	}
}

func TestV4L2_SendBeforeStart(t *testing.T) {
	d := NewV4L2("/dev/null-avatarcam")
	if err := d.Send(0, nil); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Send = %v, want ErrNotStarted", err)
	}
	if err := d.Start(4, 2, 30, time.Duration(0)); err == nil {
		t.Error("Start on a missing node should fail")
	}
	if err := d.Stop(); err != nil {
		t.Errorf("Stop = %v", err)
	}
}
