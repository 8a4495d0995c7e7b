// Package gui holds the operator-facing toggles read by the render loop.
//
// The render loop takes one *State per tick with Store.Load and never locks.
// Writers build a new State and swap it in atomically.
package gui

import (
	"image/color"

	"github.com/teslashibe/go-avatarcam/pkg/frame"
)

// State is an immutable snapshot. Do not modify a State obtained from a Store.
type State struct {
	Camera CameraState `json:"camera"`
	Image  ImageState  `json:"image"`
	Debug  DebugState  `json:"debug"`

	background color.RGBA
}

// CameraState selects and shows the capture device.
type CameraState struct {
	Device string `json:"device"`
	Hidden bool   `json:"hidden"`
}

// ImageState selects the avatar and backdrop.
type ImageState struct {
	Avatar     string `json:"avatar"`
	Background string `json:"background"` // "#rrggbb"
}

// DebugState toggles diagnostics.
type DebugState struct {
	FPS       bool `json:"fps"`
	Detection bool `json:"detection"`
	Avatar    bool `json:"avatar"`
}

// DefaultState mirrors the initial panel values.
func DefaultState() State {
	return State{
		Image: ImageState{
			Avatar:     "girl",
			Background: "#ffffff",
		},
		background: color.RGBA{R: 255, G: 255, B: 255, A: 255},
	}
}

// BackgroundColor returns the parsed background colour.
func (s *State) BackgroundColor() color.RGBA {
	return s.background
}

// ShowOverlay reports whether detection points should be drawn.
func (s *State) ShowOverlay() bool {
	return s.Debug.Detection && !s.Camera.Hidden
}

// compile parses derived fields.
func (s *State) compile() error {
	bg, err := frame.ParseHexColor(s.Image.Background)
	if err != nil {
		return err
	}
	s.background = bg
	return nil
}
