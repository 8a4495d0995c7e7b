// Package frame defines the two per-tick image types of the render pipeline:
// the captured camera frame and the composited RGBA output frame.
package frame

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// BytesPerPixel is the size of one RGBA pixel.
const BytesPerPixel = 4

// ErrInvalidSize is returned when a composite buffer does not match its dimensions.
var ErrInvalidSize = errors.New("frame: buffer size does not match dimensions")

// Video is one captured camera frame.
//
// It owns native memory. Callers MUST call Close once the tick is done with it;
// the render loop runs indefinitely and leaked Mats grow without bound.
type Video struct {
	Mat    gocv.Mat // BGR, 8 bits per channel
	Width  int
	Height int
}

// NewVideo returns an empty frame ready to be filled by a capture source.
func NewVideo() *Video {
	return &Video{Mat: gocv.NewMat()}
}

// Empty reports whether the frame holds no pixels.
func (v *Video) Empty() bool {
	return v == nil || v.Mat.Empty()
}

// Close releases the native image.
func (v *Video) Close() error {
	if v == nil {
		return nil
	}
	return v.Mat.Close()
}

// Composite is a rendered output frame: RGBA, 8 bits per channel, row-major,
// top-left origin.
//
// A Composite is immutable once handed to a relay. Consumers that need to
// keep or modify pixels must Clone it.
type Composite struct {
	Data   []byte
	Width  int
	Height int
}

// NewComposite allocates a zeroed composite of the given size.
func NewComposite(width, height int) *Composite {
	return &Composite{
		Data:   make([]byte, width*height*BytesPerPixel),
		Width:  width,
		Height: height,
	}
}

// Size returns the expected buffer length for the frame dimensions.
func (c *Composite) Size() int {
	return c.Width * c.Height * BytesPerPixel
}

// Validate checks that the buffer length matches width and height.
func (c *Composite) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidSize)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, c.Width, c.Height)
	}
	if len(c.Data) != c.Size() {
		return fmt.Errorf("%w: %dx%d needs %d bytes, got %d",
			ErrInvalidSize, c.Width, c.Height, c.Size(), len(c.Data))
	}
	return nil
}

// SameSize reports whether two frames have identical dimensions.
func (c *Composite) SameSize(o *Composite) bool {
	return c.Width == o.Width && c.Height == o.Height
}

// Clone returns a deep copy.
func (c *Composite) Clone() *Composite {
	data := make([]byte, len(c.Data))
	copy(data, c.Data)
	return &Composite{Data: data, Width: c.Width, Height: c.Height}
}

// At returns the RGBA components of the pixel at (x, y).
func (c *Composite) At(x, y int) (r, g, b, a uint8) {
	i := (y*c.Width + x) * BytesPerPixel
	return c.Data[i], c.Data[i+1], c.Data[i+2], c.Data[i+3]
}
