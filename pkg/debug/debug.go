// Package debug provides global debug logging flags
package debug

import "github.com/teslashibe/go-avatarcam/internal/log"

// Enabled controls whether debug logging is active
var Enabled bool

// Frames controls whether per-tick logs are shown (render ticks, relay sends, emitter ticks).
// These fire up to 60 times a second, so they have their own switch (--debug-frames).
var Frames bool

// Log logs a message only if debug mode is enabled
func Log(msg string, args ...any) {
	if Enabled {
		log.Debug(msg, args...)
	}
}

// FrameLog logs a message only if per-frame debug mode is enabled
func FrameLog(msg string, args ...any) {
	if Frames {
		log.Debug(msg, args...)
	}
}
