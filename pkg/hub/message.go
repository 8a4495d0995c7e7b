// Package hub fans websocket messages out to browser clients.
// Each hub owns one stream (preview JPEGs, emitted frames or status
// envelopes) and drops slow clients instead of blocking the producer.
package hub

import (
	"errors"
	"fmt"

	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-avatarcam/pkg/protocol"
)

// ErrNotJPEG is returned for image payloads without a JPEG start marker.
var ErrNotJPEG = errors.New("hub: payload is not a JPEG image")

// Message is one broadcast payload: either a status envelope sent as a text
// frame or an encoded image sent as a binary frame.
type Message struct {
	Data []byte
	// Envelope is the status envelope type; empty for images.
	Envelope protocol.MessageType
}

// IsImage reports whether m goes out as a binary frame.
func (m Message) IsImage() bool {
	return m.Envelope == ""
}

func (m Message) frameType() int {
	if m.IsImage() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// NewEnvelopeMessage encodes a status envelope.
func NewEnvelopeMessage(env *protocol.Message) (Message, error) {
	if env == nil || env.Type == "" {
		return Message{}, errors.New("hub: envelope without a type")
	}
	data, err := env.Bytes()
	if err != nil {
		return Message{}, fmt.Errorf("hub: encode %s envelope: %w", env.Type, err)
	}
	return Message{Data: data, Envelope: env.Type}, nil
}

// NewImageMessage wraps an encoded JPEG frame.
func NewImageMessage(jpeg []byte) (Message, error) {
	if len(jpeg) < 2 || jpeg[0] != 0xFF || jpeg[1] != 0xD8 {
		return Message{}, ErrNotJPEG
	}
	return Message{Data: jpeg}, nil
}
