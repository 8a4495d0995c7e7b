package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-avatarcam/internal/log"
	"github.com/teslashibe/go-avatarcam/pkg/debug"
	"github.com/teslashibe/go-avatarcam/pkg/frame"
)

// WSSender timing.
const (
	wsWriteTimeout   = 2 * time.Second
	wsReconnectDelay = time.Second
)

// WSSender streams frames to a WebSocket receiver as binary messages.
//
// Send hands the frame to a one-slot mailbox and returns; a write pump
// goroutine owns the connection. A frame still in the mailbox when the next
// one arrives is replaced and counted as dropped.
type WSSender struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	mailbox chan *frame.Composite
	mu      sync.Mutex // guards closed and mailbox replacement
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup

	conn     *websocket.Conn // owned by writePump after dial
	lastDial time.Time
	stats    counters
}

// DialWS connects to url (for example ws://127.0.0.1:9090/ws/frame) and
// starts the write pump.
func DialWS(ctx context.Context, url string) (*WSSender, error) {
	s := &WSSender{
		url:     url,
		dialer:  websocket.DefaultDialer,
		logger:  log.Component("relay").With("transport", "ws", "url", url),
		mailbox: make(chan *frame.Composite, 1),
		done:    make(chan struct{}),
	}

	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", url, err)
	}
	s.conn = conn
	s.lastDial = time.Now()
	s.logger.Info("relay connected")

	s.wg.Add(1)
	go s.writePump()
	return s, nil
}

// Send implements Sender.
func (s *WSSender) Send(f *frame.Composite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	select {
	case s.mailbox <- f:
		return nil
	default:
	}
	select {
	case <-s.mailbox:
		s.stats.dropped.Add(1)
	default:
	}
	s.mailbox <- f
	return nil
}

func (s *WSSender) writePump() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case f := <-s.mailbox:
			s.write(f)
		}
	}
}

func (s *WSSender) write(f *frame.Composite) {
	if s.conn == nil && !s.redial() {
		s.stats.dropped.Add(1)
		return
	}

	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, Encode(f)); err != nil {
		s.stats.errors.Add(1)
		s.logger.Warn("relay write failed, will reconnect", "error", err)
		s.conn.Close()
		s.conn = nil
		return
	}
	s.stats.sent.Add(1)
	debug.FrameLog("relay sent", "transport", "ws", "width", f.Width, "height", f.Height)
}

func (s *WSSender) redial() bool {
	if time.Since(s.lastDial) < wsReconnectDelay {
		return false
	}
	s.lastDial = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		s.logger.Debug("relay reconnect failed", "error", err)
		return false
	}
	s.conn = conn
	s.logger.Info("relay reconnected")
	return true
}

// Stats implements Sender.
func (s *WSSender) Stats() Stats {
	return s.stats.snapshot()
}

// Close stops the write pump and closes the connection.
func (s *WSSender) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	if s.conn == nil {
		return nil
	}
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
