// Package retarget maps estimated poses onto a drawable avatar.
//
// The core pipeline treats a Retargeter as opaque: it binds a template,
// feeds it one pose (and optionally one face) per tick, and asks it to
// draw. Skeleton is the stock implementation.
package retarget

import (
	"github.com/teslashibe/go-avatarcam/pkg/inference"
	"gocv.io/x/gocv"
)

// Retargeter turns poses into avatar drawings.
type Retargeter interface {
	// Bind replaces the avatar. Joint state is kept.
	Bind(t *Template) error
	// Bound returns the current template, or nil.
	Bound() *Template
	// Update moves the avatar to pose. face may be nil.
	Update(pose *inference.Pose, face FaceFrame)
	// Render draws the avatar onto dst, scaling from video to dst coordinates.
	Render(dst *gocv.Mat, videoWidth, videoHeight int)
}

// DebugRenderer is implemented by retargeters that can draw their rig.
type DebugRenderer interface {
	DebugRender(dst *gocv.Mat, videoWidth, videoHeight int)
}

// Point is a 2-D position in video coordinates.
type Point struct {
	X, Y float64
}

// FaceFrame maps face part names to positions. A nil FaceFrame means no face.
type FaceFrame map[string]Point

// ToFaceFrame extracts the named parts of a landmark set.
func ToFaceFrame(set *inference.FaceLandmarkSet) FaceFrame {
	if set == nil {
		return nil
	}
	ff := make(FaceFrame, len(set.Parts))
	for name := range set.Parts {
		if p, ok := set.Part(name); ok {
			ff[name] = Point{X: p.X, Y: p.Y}
		}
	}
	return ff
}
