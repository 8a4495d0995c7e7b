// Package protocol defines the JSON envelopes pushed to control clients on
// /ws/status.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies an envelope.
type MessageType string

const (
	TypeState  MessageType = "state"  // control panel snapshot
	TypeStats  MessageType = "stats"  // periodic pipeline counters
	TypeStatus MessageType = "status" // operator-visible event or error
)

// Message wraps every status-stream payload.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s data: %w", msgType, err)
		}
	}
	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      raw,
	}, nil
}

// ParseData unmarshals the payload into v.
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON encoding of m.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage decodes an envelope.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// Level grades status events.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal" // the process is about to exit
)

// StatusData reports something the operator should see, such as a camera
// that failed to open.
type StatusData struct {
	Level     Level  `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
}

// StatsData is a snapshot of pipeline counters.
type StatsData struct {
	Renderer *RendererStats `json:"renderer,omitempty"`
	Relay    *RelayStats    `json:"relay,omitempty"`
	Emitter  *EmitterStats  `json:"emitter,omitempty"`
}

// RendererStats describes the render loop.
type RendererStats struct {
	FPS               float64 `json:"fps"`
	Rendered          uint64  `json:"rendered"`
	Skipped           uint64  `json:"skipped"`
	Relayed           uint64  `json:"relayed"`
	InferenceFailures uint64  `json:"inference_failures"`
	InferenceMs       float64 `json:"inference_ms"`
	LastFrame         int64   `json:"last_frame,omitempty"` // Unix milliseconds
}

// RelayStats mirrors relay counters.
type RelayStats struct {
	Transport string `json:"transport"`
	Sent      uint64 `json:"sent"`
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
	Errors    uint64 `json:"errors"`
}

// EmitterStats describes the virtual camera.
type EmitterStats struct {
	State      string `json:"state"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Received   uint64 `json:"received"`
	Emitted    uint64 `json:"emitted"`
	Duplicates uint64 `json:"duplicates"`
	SendErrors uint64 `json:"send_errors"`
}

// NewStateMessage wraps a control panel snapshot.
func NewStateMessage(state any) (*Message, error) {
	return NewMessage(TypeState, state)
}

// NewStatsMessage wraps a counter snapshot.
func NewStatsMessage(stats StatsData) (*Message, error) {
	return NewMessage(TypeStats, stats)
}

// NewStatusMessage wraps a status event. err may be nil.
func NewStatusMessage(level Level, component, message string, err error) (*Message, error) {
	data := StatusData{Level: level, Component: component, Message: message}
	if err != nil {
		data.Error = err.Error()
	}
	return NewMessage(TypeStatus, data)
}
