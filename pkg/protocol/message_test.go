package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    any
		wantErr bool
	}{
		{"status", TypeStatus, StatusData{Level: LevelWarn, Message: "camera busy"}, false},
		{"stats", TypeStats, StatsData{Renderer: &RendererStats{FPS: 30}}, false},
		{"nil data", TypeState, nil, false},
		{"unmarshalable", TypeState, make(chan int), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("timestamp should be set")
			}
			if tt.data == nil && msg.Data != nil {
				t.Error("nil data should leave Data empty")
			}
		})
	}
}

func TestStatusMessageRoundTrip(t *testing.T) {
	msg, err := NewStatusMessage(LevelError, "camera", "could not open camera", errors.New("device busy"))
	if err != nil {
		t.Fatalf("NewStatusMessage: %v", err)
	}
	raw, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if parsed.Type != TypeStatus {
		t.Errorf("type = %v", parsed.Type)
	}

	var data StatusData
	if err := parsed.ParseData(&data); err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	want := StatusData{Level: LevelError, Component: "camera", Message: "could not open camera", Error: "device busy"}
	if data != want {
		t.Errorf("data = %+v, want %+v", data, want)
	}
}

func TestStatusMessageWithoutError(t *testing.T) {
	msg, _ := NewStatusMessage(LevelInfo, "emitter", "started", nil)
	var fields map[string]any
	json.Unmarshal(msg.Data, &fields)
	if _, ok := fields["error"]; ok {
		t.Error("error field should be omitted when nil")
	}
}

func TestParseMessageInvalid(t *testing.T) {
	if _, err := ParseMessage([]byte("{")); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestStatsOmitsMissingSections(t *testing.T) {
	msg, _ := NewStatsMessage(StatsData{Emitter: &EmitterStats{State: "running"}})
	var fields map[string]json.RawMessage
	json.Unmarshal(msg.Data, &fields)
	if _, ok := fields["renderer"]; ok {
		t.Error("renderer should be omitted")
	}
	if _, ok := fields["emitter"]; !ok {
		t.Error("emitter should be present")
	}
}

func TestParseDataNil(t *testing.T) {
	m := &Message{Type: TypeState}
	var v map[string]any
	if err := m.ParseData(&v); err != nil {
		t.Errorf("ParseData on empty message = %v", err)
	}
}
