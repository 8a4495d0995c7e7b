// Package relay carries composited frames from the renderer to the virtual
// camera emitter.
//
// Every transport honours the same contract: Send never waits for the
// consumer, frames are delivered to the receiver's Handler in send order,
// and frames may be dropped when the consumer falls behind. All
// transports use the single logical channel "frame".
package relay

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/teslashibe/go-avatarcam/pkg/frame"
)

// Channel is the logical channel name every transport publishes on.
const Channel = "frame"

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("relay: closed")

	// ErrFrameTooLarge is returned when a frame exceeds the transport capacity.
	ErrFrameTooLarge = errors.New("relay: frame too large")

	// ErrMalformed is returned when a message cannot be decoded.
	ErrMalformed = errors.New("relay: malformed frame message")
)

// Sender publishes frames. Implementations must not block on the consumer.
type Sender interface {
	Send(f *frame.Composite) error
	Stats() Stats
	Close() error
}

// Handler receives frames in order.
type Handler func(f *frame.Composite)

// Receiver delivers frames to a Handler until ctx is done.
type Receiver interface {
	Run(ctx context.Context, h Handler) error
	Stats() Stats
}

// Stats counts relay traffic.
type Stats struct {
	Sent     uint64 `json:"sent"`
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
	Errors   uint64 `json:"errors"`
}

type counters struct {
	sent, received, dropped, errors atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Sent:     c.sent.Load(),
		Received: c.received.Load(),
		Dropped:  c.dropped.Load(),
		Errors:   c.errors.Load(),
	}
}
