package compositor

import (
	"image"
	"image/color"
	"math"

	"github.com/teslashibe/go-avatarcam/pkg/inference"
	"gocv.io/x/gocv"
)

// Overlay colours.
var (
	KeypointColor = color.RGBA{R: 0, G: 255, B: 255, A: 255}
	FaceColor     = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// DrawDetections draws usable poses (keypoints and bones) and every named face
// part onto dst. Coordinates are scaled by (sx, sy).
func DrawDetections(dst *gocv.Mat, poses []inference.Pose, faces []inference.FaceLandmarkSet, minPose, minPart, sx, sy float64) {
	pt := func(x, y float64) image.Point {
		return image.Pt(int(math.Round(x*sx)), int(math.Round(y*sy)))
	}

	for i := range poses {
		p := &poses[i]
		if !p.Usable(minPose) {
			continue
		}
		for _, kp := range p.Keypoints {
			if kp.Score >= minPart {
				gocv.Circle(dst, pt(kp.X, kp.Y), 3, KeypointColor, -1)
			}
		}
		for _, pair := range inference.AdjacentParts {
			a, okA := p.Keypoint(pair[0])
			b, okB := p.Keypoint(pair[1])
			if okA && okB && a.Score >= minPart && b.Score >= minPart {
				gocv.Line(dst, pt(a.X, a.Y), pt(b.X, b.Y), KeypointColor, 2)
			}
		}
	}

	for i := range faces {
		for name := range faces[i].Parts {
			if v, ok := faces[i].Part(name); ok {
				gocv.Circle(dst, pt(v.X, v.Y), 2, FaceColor, -1)
			}
		}
	}
}
