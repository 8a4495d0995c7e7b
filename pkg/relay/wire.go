package relay

import (
	"encoding/binary"
	"fmt"

	"github.com/teslashibe/go-avatarcam/pkg/frame"
)

// HeaderSize is the encoded size of width and height.
const HeaderSize = 8

// EncodedSize returns the message length for f.
func EncodedSize(f *frame.Composite) int {
	return HeaderSize + len(f.Data)
}

// Encode serializes f as width (u32 BE), height (u32 BE), then raw RGBA bytes.
func Encode(f *frame.Composite) []byte {
	buf := make([]byte, EncodedSize(f))
	EncodeTo(buf, f)
	return buf
}

// EncodeTo writes f into buf, which must hold EncodedSize(f) bytes.
func EncodeTo(buf []byte, f *frame.Composite) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(f.Width))
	binary.BigEndian.PutUint32(buf[4:8], uint32(f.Height))
	copy(buf[HeaderSize:], f.Data)
}

// Decode parses a message. The returned frame owns a copy of the pixels.
func Decode(msg []byte) (*frame.Composite, error) {
	if len(msg) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(msg))
	}
	w := int(binary.BigEndian.Uint32(msg[0:4]))
	h := int(binary.BigEndian.Uint32(msg[4:8]))
	if w <= 0 || h <= 0 || w > 1<<14 || h > 1<<14 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrMalformed, w, h)
	}

	want := w * h * frame.BytesPerPixel
	if len(msg)-HeaderSize != want {
		return nil, fmt.Errorf("%w: %dx%d needs %d bytes, got %d", ErrMalformed, w, h, want, len(msg)-HeaderSize)
	}

	data := make([]byte, want)
	copy(data, msg[HeaderSize:])
	return &frame.Composite{Data: data, Width: w, Height: h}, nil
}
