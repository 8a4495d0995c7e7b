package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	gws "github.com/gorilla/websocket"
	"github.com/teslashibe/go-avatarcam/pkg/protocol"
)

// jpegStub starts with the JPEG start-of-image marker.
var jpegStub = []byte{0xFF, 0xD8, 0xFF, 0xE0, 'j', 'f', 'i', 'f'}

func serveHub(t *testing.T, h *Hub, addr string) {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws", websocket.New(func(c *websocket.Conn) { Serve(h, c) }))
	go app.Listen(addr)
	t.Cleanup(func() { app.Shutdown() })
	time.Sleep(100 * time.Millisecond)
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew(t *testing.T) {
	h := New("preview")
	if h.Name() != "preview" {
		t.Errorf("Name = %q", h.Name())
	}
	if h.ClientCount() != 0 || h.HasClients() {
		t.Error("new hub should have no clients")
	}
	if h.IsRunning() {
		t.Error("hub should not run before Run")
	}
}

func TestBroadcastWithoutRunDrops(t *testing.T) {
	h := New("status")
	for i := 0; i < 100; i++ {
		h.BroadcastBinary(jpegStub)
	}
	if h.Stats().Dropped == 0 {
		t.Error("expected drops once the broadcast queue is full")
	}
}

func TestNewEnvelopeMessage(t *testing.T) {
	env, err := protocol.NewStatsMessage(protocol.StatsData{})
	if err != nil {
		t.Fatalf("NewStatsMessage: %v", err)
	}

	tests := []struct {
		name    string
		env     *protocol.Message
		wantErr bool
	}{
		{"stats", env, false},
		{"nil", nil, true},
		{"untyped", &protocol.Message{}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := NewEnvelopeMessage(tc.env)
			if (err != nil) != tc.wantErr {
				t.Fatalf("NewEnvelopeMessage() error = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			if msg.IsImage() || msg.Envelope != protocol.TypeStats {
				t.Errorf("message = %+v, want a stats envelope", msg)
			}
			back, err := protocol.ParseMessage(msg.Data)
			if err != nil || back.Type != protocol.TypeStats {
				t.Errorf("ParseMessage = %+v, %v", back, err)
			}
		})
	}
}

func TestBroadcastBinaryRejectsNonJPEG(t *testing.T) {
	h := New("preview")
	h.BroadcastBinary([]byte("raw rgba"))
	if h.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", h.Stats().Dropped)
	}
	if _, err := NewImageMessage([]byte{0xFF}); !errors.Is(err, ErrNotJPEG) {
		t.Errorf("NewImageMessage(short) = %v, want ErrNotJPEG", err)
	}
}

func TestBroadcastReachesClients(t *testing.T) {
	h := New("status")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	serveHub(t, h, ":19281")

	ws, _, err := gws.DefaultDialer.Dial("ws://localhost:19281/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	waitClients(t, h, 1)

	env, err := protocol.NewStatusMessage(protocol.LevelInfo, "camera", "camera switched to 2", nil)
	if err != nil {
		t.Fatalf("NewStatusMessage: %v", err)
	}
	envBytes, _ := env.Bytes()

	tests := []struct {
		name   string
		send   func()
		wsType int
		want   string
	}{
		{"envelope", func() { h.BroadcastEnvelope(env) }, gws.TextMessage, string(envBytes)},
		{"image", func() { h.BroadcastBinary(jpegStub) }, gws.BinaryMessage, string(jpegStub)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.send()
			ws.SetReadDeadline(time.Now().Add(2 * time.Second))
			mt, data, err := ws.ReadMessage()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if mt != tc.wsType || string(data) != tc.want {
				t.Errorf("got type %d %q, want %d %q", mt, data, tc.wsType, tc.want)
			}
		})
	}
}

func TestClientDisconnect(t *testing.T) {
	h := New("preview")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	serveHub(t, h, ":19282")

	ws, _, err := gws.DefaultDialer.Dial("ws://localhost:19282/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitClients(t, h, 1)

	ws.Close()
	waitClients(t, h, 0)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := New("output")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if !h.IsRunning() {
		t.Error("hub should be running")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if h.IsRunning() {
		t.Error("hub should report stopped")
	}
}
