//go:build !linux

package relay

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/go-avatarcam/pkg/frame"
)

// ErrShmUnsupported is returned by the shared-memory transport outside Linux.
var ErrShmUnsupported = errors.New("relay: shared memory transport requires linux")

// ShmSender is unavailable on this platform.
type ShmSender struct{}

// NewShmSender returns a sender whose Send always fails.
func NewShmSender(path string, minCapacity int) *ShmSender { return &ShmSender{} }

// Send implements Sender.
func (s *ShmSender) Send(*frame.Composite) error { return ErrShmUnsupported }

// Stats implements Sender.
func (s *ShmSender) Stats() Stats { return Stats{} }

// Close implements Sender.
func (s *ShmSender) Close() error { return nil }

// ShmReceiver is unavailable on this platform.
type ShmReceiver struct{}

// NewShmReceiver returns a receiver whose Run always fails.
func NewShmReceiver(path string, poll time.Duration) *ShmReceiver { return &ShmReceiver{} }

// Run implements Receiver.
func (r *ShmReceiver) Run(context.Context, Handler) error { return ErrShmUnsupported }

// Stats implements Receiver.
func (r *ShmReceiver) Stats() Stats { return Stats{} }
