// Package camera captures frames from a local webcam.
// Capture size and mirroring are fixed per session; the device can be
// switched at runtime through Source.Switch.
package camera

import "fmt"

// Config holds the capture parameters.
type Config struct {
	Width     int  `json:"width" yaml:"width"`         // Frame width in pixels
	Height    int  `json:"height" yaml:"height"`       // Frame height in pixels
	Framerate int  `json:"framerate" yaml:"framerate"` // Requested device FPS
	Mirror    bool `json:"mirror" yaml:"mirror"`       // Mirror the preview and flip estimated poses
}

// Capture limits.
const (
	MinWidth     = 160
	MaxWidth     = 3840
	MinHeight    = 90
	MaxHeight    = 2160
	MaxFramerate = 120
)

// DefaultWidth is the capture width used by the avatar pipeline.
// Height follows from AspectRatio.
const DefaultWidth = 320

// AspectRatio is height/width of the capture.
const AspectRatio = 9.0 / 16.0

// HeightFor returns the capture height for a width at AspectRatio.
func HeightFor(width int) int {
	return int(float64(width) * AspectRatio)
}

// DefaultConfig returns the 320x180 mirrored capture the pipeline is tuned for.
// Small frames keep pose estimation inside one display refresh.
func DefaultConfig() Config {
	return Config{
		Width:     DefaultWidth,
		Height:    HeightFor(DefaultWidth),
		Framerate: 30,
		Mirror:    true,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errs []string

	if c.Width < MinWidth || c.Width > MaxWidth {
		errs = append(errs, fmt.Sprintf("width must be between %d and %d", MinWidth, MaxWidth))
	}
	if c.Height < MinHeight || c.Height > MaxHeight {
		errs = append(errs, fmt.Sprintf("height must be between %d and %d", MinHeight, MaxHeight))
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errs = append(errs, fmt.Sprintf("framerate must be between 1 and %d", MaxFramerate))
	}

	return errs
}
