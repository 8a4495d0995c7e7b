package relay

import (
	"context"
	"sync"

	"github.com/teslashibe/go-avatarcam/pkg/frame"
)

// Local is an in-process transport. Ownership of each frame passes to the
// receiver; nothing is copied.
type Local struct {
	ch     chan *frame.Composite
	mu     sync.Mutex // serializes senders and Close
	closed bool
	stats  counters
}

// NewLocal creates a local relay holding up to buffer undelivered frames.
// When full, the oldest pending frame is dropped.
func NewLocal(buffer int) *Local {
	if buffer < 1 {
		buffer = 1
	}
	return &Local{ch: make(chan *frame.Composite, buffer)}
}

// Send queues f, evicting the oldest pending frame if the buffer is full.
func (l *Local) Send(f *frame.Composite) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	for {
		select {
		case l.ch <- f:
			l.stats.sent.Add(1)
			return nil
		default:
		}
		select {
		case <-l.ch:
			l.stats.dropped.Add(1)
		default:
		}
	}
}

// Run delivers frames to h until ctx is done or the relay is closed.
func (l *Local) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-l.ch:
			if !ok {
				return nil
			}
			l.stats.received.Add(1)
			h(f)
		}
	}
}

// Stats returns traffic counters.
func (l *Local) Stats() Stats {
	return l.stats.snapshot()
}

// Close stops the relay. Pending frames are still delivered.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	return nil
}
