// Package inference estimates body pose and face landmarks from camera frames.
//
// Pose and face estimation are independent and are issued concurrently per
// render tick through Adapter. Backends run OpenCV DNN models via gocv:
//
//	pose, _ := inference.NewPoseNet(inference.DefaultPoseNetConfig())
//	face, _ := inference.NewFaceMesh(inference.DefaultFaceMeshConfig())
//	adapter := inference.NewAdapter(pose, face)
//	defer adapter.Close()
//
//	res, err := adapter.Estimate(ctx, seq, raw, mirrored, inference.PoseConfig{
//	    Flip:          true,
//	    MaxDetections: 1,
//	    MinScore:      0.1,
//	    NMSRadius:     30,
//	})
package inference

import (
	"context"
	"image"

	"github.com/teslashibe/go-avatarcam/pkg/frame"
)

// PoseEstimator estimates body poses in a frame.
type PoseEstimator interface {
	EstimatePoses(ctx context.Context, f *frame.Video, cfg PoseConfig) ([]Pose, error)
	Close() error
}

// FaceEstimator estimates face landmark sets in a frame.
type FaceEstimator interface {
	EstimateFaces(ctx context.Context, f *frame.Video) ([]FaceLandmarkSet, error)
	Close() error
}

// PoseConfig is passed to every pose estimation call.
type PoseConfig struct {
	Flip          bool    // mirror keypoint x coordinates
	MaxDetections int     // poses to return; decoding is single-person so values above 1 act as 1
	MinScore      float64 // drop poses scoring below this
	NMSRadius     float64 // pixels; only meaningful for multi-person decoding
}

// Keypoint is one named body part in frame pixel coordinates.
type Keypoint struct {
	Part  string  `json:"part"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Score float64 `json:"score"`
}

// Pose is one estimated body pose.
type Pose struct {
	Score     float64    `json:"score"`
	Keypoints []Keypoint `json:"keypoints"`
}

// Usable reports whether the pose clears the confidence threshold.
func (p *Pose) Usable(minPoseConfidence float64) bool {
	return p != nil && p.Score >= minPoseConfidence
}

// Keypoint looks up a part by name.
func (p *Pose) Keypoint(part string) (Keypoint, bool) {
	for _, kp := range p.Keypoints {
		if kp.Part == part {
			return kp, true
		}
	}
	return Keypoint{}, false
}

// Clone returns a deep copy.
func (p Pose) Clone() Pose {
	kps := make([]Keypoint, len(p.Keypoints))
	copy(kps, p.Keypoints)
	return Pose{Score: p.Score, Keypoints: kps}
}

// Point3 is a mesh vertex in frame pixel coordinates. Z is relative depth.
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// FaceLandmarkSet is one detected face: a dense mesh plus named indices into it.
type FaceLandmarkSet struct {
	Score      float64         `json:"score"`
	Box        image.Rectangle `json:"box"`
	ScaledMesh []Point3        `json:"scaled_mesh"`
	Parts      map[string]int  `json:"parts"`
}

// Part returns the mesh vertex for a named face part.
func (f *FaceLandmarkSet) Part(name string) (Point3, bool) {
	idx, ok := f.Parts[name]
	if !ok || idx < 0 || idx >= len(f.ScaledMesh) {
		return Point3{}, false
	}
	return f.ScaledMesh[idx], true
}
