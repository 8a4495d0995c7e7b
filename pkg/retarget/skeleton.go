package retarget

import (
	"errors"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/teslashibe/go-avatarcam/pkg/inference"
	"gocv.io/x/gocv"
)

// limbs are drawn in this order, upper segments first.
var limbs = [][2]string{
	{inference.LeftShoulder, inference.LeftElbow},
	{inference.LeftElbow, inference.LeftWrist},
	{inference.RightShoulder, inference.RightElbow},
	{inference.RightElbow, inference.RightWrist},
	{inference.LeftHip, inference.LeftKnee},
	{inference.LeftKnee, inference.LeftAnkle},
	{inference.RightHip, inference.RightKnee},
	{inference.RightKnee, inference.RightAnkle},
}

// Skeleton is a stick-figure retargeter. Each joint keeps its last
// confident position, so a briefly occluded limb stays where it was.
type Skeleton struct {
	minPart float64

	mu      sync.Mutex
	tmpl    *Template
	joints  map[string]Point
	face    FaceFrame
	updates int
}

// NewSkeleton creates a skeleton that ignores keypoints below minPartConfidence.
func NewSkeleton(minPartConfidence float64) *Skeleton {
	return &Skeleton{
		minPart: minPartConfidence,
		joints:  make(map[string]Point),
	}
}

// Bind implements Retargeter.
func (s *Skeleton) Bind(t *Template) error {
	if t == nil {
		return errors.New("retarget: nil template")
	}
	s.mu.Lock()
	s.tmpl = t
	s.mu.Unlock()
	return nil
}

// Bound implements Retargeter.
func (s *Skeleton) Bound() *Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tmpl
}

// Update implements Retargeter.
func (s *Skeleton) Update(pose *inference.Pose, face FaceFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pose != nil {
		for _, kp := range pose.Keypoints {
			if kp.Score >= s.minPart {
				s.joints[kp.Part] = Point{X: kp.X, Y: kp.Y}
			}
		}
	}
	s.face = face
	s.updates++
}

// Updates returns how many times Update was called.
func (s *Skeleton) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// Joint returns the last known position of a body part.
func (s *Skeleton) Joint(part string) (Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.joints[part]
	return p, ok
}

// Render implements Retargeter.
func (s *Skeleton) Render(dst *gocv.Mat, videoWidth, videoHeight int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tmpl
	if t == nil || len(s.joints) == 0 || videoWidth <= 0 || videoHeight <= 0 {
		return
	}

	c := canvas{
		dst: dst,
		sx:  float64(dst.Cols()) / float64(videoWidth),
		sy:  float64(dst.Rows()) / float64(videoHeight),
	}
	lw := t.Style.LineWidth
	pal := t.palette

	ls, okLS := s.joints[inference.LeftShoulder]
	rs, okRS := s.joints[inference.RightShoulder]
	lh, okLH := s.joints[inference.LeftHip]
	rh, okRH := s.joints[inference.RightHip]

	if okLS && okRS && okLH && okRH {
		torso := []image.Point{c.pt(ls), c.pt(rs), c.pt(rh), c.pt(lh)}
		c.fillPoly(torso, pal.body)
		c.polyline(torso, pal.outline, 2)
	}

	for _, l := range limbs {
		a, okA := s.joints[l[0]]
		b, okB := s.joints[l[1]]
		if okA && okB {
			gocv.Line(dst, c.pt(a), c.pt(b), pal.limbs, lw)
		}
	}

	head, ok := s.headCenter()
	if !ok {
		return
	}

	shoulderWidth := float64(videoWidth) * 0.15
	if okLS && okRS {
		shoulderWidth = math.Hypot(ls.X-rs.X, ls.Y-rs.Y)
	}
	r := int(shoulderWidth * t.Style.HeadScale * c.sx)
	if r < 4 {
		r = 4
	}
	hc := c.pt(head)

	if okLS && okRS {
		neck := Point{X: (ls.X + rs.X) / 2, Y: (ls.Y + rs.Y) / 2}
		gocv.Line(dst, c.pt(neck), hc, pal.skin, lw)
	}

	if t.Style.HairLength > 0 {
		drop := int(float64(r) * t.Style.HairLength)
		gocv.Rectangle(dst, image.Rect(hc.X-r-r/10, hc.Y, hc.X+r+r/10, hc.Y+drop), pal.hair, -1)
	}
	gocv.Circle(dst, image.Pt(hc.X, hc.Y-r/8), r+r/10, pal.hair, -1)
	gocv.Circle(dst, hc, r, pal.skin, -1)
	gocv.Circle(dst, hc, r, pal.outline, 2)

	eyeR := r / 8
	if eyeR < 2 {
		eyeR = 2
	}
	for _, eye := range s.eyes() {
		gocv.Circle(dst, c.pt(eye), eyeR, pal.eyes, -1)
	}

	if ml, mr, ok := s.mouth(); ok {
		gocv.Line(dst, c.pt(ml), c.pt(mr), pal.mouth, max(2, lw/3))
	}
}

// DebugRender implements DebugRenderer: joints and bones in the outline colour.
func (s *Skeleton) DebugRender(dst *gocv.Mat, videoWidth, videoHeight int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tmpl == nil || videoWidth <= 0 || videoHeight <= 0 {
		return
	}
	c := canvas{
		dst: dst,
		sx:  float64(dst.Cols()) / float64(videoWidth),
		sy:  float64(dst.Rows()) / float64(videoHeight),
	}
	col := s.tmpl.palette.outline

	for _, pair := range inference.AdjacentParts {
		a, okA := s.joints[pair[0]]
		b, okB := s.joints[pair[1]]
		if okA && okB {
			gocv.Line(dst, c.pt(a), c.pt(b), col, 1)
		}
	}
	for _, p := range s.joints {
		gocv.Circle(dst, c.pt(p), 4, col, 1)
	}
	for _, p := range s.face {
		gocv.Circle(dst, c.pt(p), 2, col, -1)
	}
}

// headCenter prefers the face mesh nose tip over the pose nose.
func (s *Skeleton) headCenter() (Point, bool) {
	if p, ok := s.face[inference.FaceNoseTip]; ok {
		return p, true
	}
	p, ok := s.joints[inference.Nose]
	return p, ok
}

func (s *Skeleton) eyes() []Point {
	if s.face != nil {
		if l, ok := s.face[inference.FaceLeftEye]; ok {
			if r, ok := s.face[inference.FaceRightEye]; ok {
				return []Point{l, r}
			}
		}
		li, okLI := s.face[inference.FaceLeftEyeInner]
		lo, okLO := s.face[inference.FaceLeftEyeOuter]
		ri, okRI := s.face[inference.FaceRightEyeInner]
		ro, okRO := s.face[inference.FaceRightEyeOuter]
		if okLI && okLO && okRI && okRO {
			return []Point{mid(li, lo), mid(ri, ro)}
		}
	}

	var out []Point
	for _, part := range []string{inference.LeftEye, inference.RightEye} {
		if p, ok := s.joints[part]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Skeleton) mouth() (Point, Point, bool) {
	l, okL := s.face[inference.FaceMouthLeft]
	r, okR := s.face[inference.FaceMouthRight]
	return l, r, okL && okR
}

type canvas struct {
	dst    *gocv.Mat
	sx, sy float64
}

func (c canvas) pt(p Point) image.Point {
	return image.Pt(int(math.Round(p.X*c.sx)), int(math.Round(p.Y*c.sy)))
}

func (c canvas) fillPoly(pts []image.Point, col color.RGBA) {
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer pv.Close()
	gocv.FillPoly(c.dst, pv, col)
}

func (c canvas) polyline(pts []image.Point, col color.RGBA, thickness int) {
	for i := range pts {
		gocv.Line(c.dst, pts[i], pts[(i+1)%len(pts)], col, thickness)
	}
}

func mid(a, b Point) Point {
	return Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}
