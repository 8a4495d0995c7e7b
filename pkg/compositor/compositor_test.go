package compositor

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/teslashibe/go-avatarcam/pkg/inference"
	"github.com/teslashibe/go-avatarcam/pkg/retarget"
	"gocv.io/x/gocv"
)

// stripeAvatar paints the leftmost canvas columns when rendered.
type stripeAvatar struct {
	tmpl    *retarget.Template
	renders int
	debugs  int
}

func (a *stripeAvatar) Bind(t *retarget.Template) error { a.tmpl = t; return nil }
func (a *stripeAvatar) Bound() *retarget.Template { return a.tmpl }
func (a *stripeAvatar) Update(*inference.Pose, retarget.FaceFrame) {}
func (a *stripeAvatar) Render(dst *gocv.Mat, _, _ int) {
	a.renders++
	gocv.Rectangle(dst, image.Rect(0, 0, 10, dst.Rows()), color.RGBA{R: 255, A: 255}, -1)
}
func (a *stripeAvatar) DebugRender(*gocv.Mat, int, int) { a.debugs++ }

func histogram(data []byte) map[[4]byte]int {
	h := make(map[[4]byte]int)
	for i := 0; i+3 < len(data); i += 4 {
		h[[4]byte{data[i], data[i+1], data[i+2], data[i+3]}]++
	}
	return h
}

func newTestCompositor(t *testing.T) *Compositor {
	t.Helper()
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCompose_SolidBackground(t *testing.T) {
	c := newTestCompositor(t)
	bg := color.RGBA{R: 0x33, G: 0x66, B: 0xcc, A: 0xff}

	out, err := c.Compose(Scene{Background: bg})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if out.Width != 640 || out.Height != 360 {
		t.Fatalf("composite = %dx%d, want 640x360", out.Width, out.Height)
	}

	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			r, g, b, a := out.At(x, y)
			if r != bg.R || g != bg.G || b != bg.B || a != bg.A {
				t.Fatalf("pixel (%d,%d) = %d,%d,%d,%d, want background", x, y, r, g, b, a)
			}
		}
	}
}

func TestCompose_FlipPreservesHistogram(t *testing.T) {
	c := newTestCompositor(t)
	avatar := &stripeAvatar{tmpl: &retarget.Template{Name: "stripe"}}

	out, err := c.Compose(Scene{Background: color.RGBA{G: 200, A: 255}, Avatar: avatar})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	pre := gocv.NewMat()
	defer pre.Close()
	gocv.CvtColor(c.surface, &pre, gocv.ColorBGRAToRGBA)

	before := histogram(pre.ToBytes())
	after := histogram(out.Data)
	if len(before) != len(after) {
		t.Fatalf("histogram sizes differ: %d vs %d", len(before), len(after))
	}
	for k, n := range before {
		if after[k] != n {
			t.Errorf("colour %v: %d before flip, %d after", k, n, after[k])
		}
	}
}

func TestCompose_FlipMirrorsHorizontally(t *testing.T) {
	c := newTestCompositor(t)
	avatar := &stripeAvatar{tmpl: &retarget.Template{Name: "stripe"}}

	out, err := c.Compose(Scene{Background: color.RGBA{A: 255}, Avatar: avatar})
	if err != nil {
		t.Fatal(err)
	}

	if r, _, _, _ := out.At(out.Width-1, 0); r != 255 {
		t.Error("stripe drawn on the left should appear on the right after flip")
	}
	if r, _, _, _ := out.At(0, 0); r != 0 {
		t.Error("left edge should be background after flip")
	}
}

func TestCompose_UnboundAvatarSkipped(t *testing.T) {
	c := newTestCompositor(t)
	avatar := &stripeAvatar{}

	if _, err := c.Compose(Scene{Background: color.RGBA{A: 255}, Avatar: avatar, AvatarDebug: true}); err != nil {
		t.Fatal(err)
	}
	if avatar.renders != 0 || avatar.debugs != 0 {
		t.Errorf("unbound avatar rendered %d times, debug %d", avatar.renders, avatar.debugs)
	}

	avatar.tmpl = &retarget.Template{Name: "stripe"}
	if _, err := c.Compose(Scene{Background: color.RGBA{A: 255}, Avatar: avatar, AvatarDebug: true}); err != nil {
		t.Fatal(err)
	}
	if avatar.renders != 1 || avatar.debugs != 1 {
		t.Errorf("bound avatar rendered %d times, debug %d", avatar.renders, avatar.debugs)
	}
}

func TestCompose_Overlay(t *testing.T) {
	bg := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	tests := []struct {
		name      string
		score     float64
		overlay   bool
		wantDrawn bool
	}{
		{"usable pose", 0.9, true, true},
		{"pose below threshold", 0.10, true, false},
		{"overlay off", 0.9, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestCompositor(t)
			out, err := c.Compose(Scene{
				Background: bg,
				Overlay:    tc.overlay,
				Poses:      []inference.Pose{inference.UniformPose(tc.score, 160, 90)},
			})
			if err != nil {
				t.Fatal(err)
			}
			// (160,90) in video space is (320,180) on the canvas, mirrored to (319,180).
			r, g, b, _ := out.At(319, 180)
			drawn := r == KeypointColor.R && g == KeypointColor.G && b == KeypointColor.B
			if drawn != tc.wantDrawn {
				t.Errorf("keypoint drawn = %v, want %v", drawn, tc.wantDrawn)
			}
		})
	}
}

func TestCompose_SurfaceResized(t *testing.T) {
	c := newTestCompositor(t)
	c.surface.Close()
	c.surface = gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC4)

	if _, err := c.Compose(Scene{}); !errors.Is(err, ErrSurfaceResized) {
		t.Errorf("Compose = %v, want ErrSurfaceResized", err)
	}
}

func TestCompose_AfterClose(t *testing.T) {
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Compose(Scene{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Compose after Close = %v, want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestNew_InvalidSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CanvasWidth = 0
	if _, err := New(cfg); err == nil {
		t.Error("expected error for zero canvas width")
	}
}
