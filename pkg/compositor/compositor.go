// Package compositor draws the avatar scene and reads it back as an RGBA frame.
//
// The scene is drawn in mirrored camera coordinates onto a primary surface,
// then copied through a second surface that is permanently flipped
// horizontally. Pixels are read back from the second surface, so the output
// is un-mirrored and top-left origin. The flip only reorders pixels.
package compositor

import (
	"errors"
	"fmt"
	"image/color"
	"sync"

	"github.com/teslashibe/go-avatarcam/pkg/frame"
	"github.com/teslashibe/go-avatarcam/pkg/inference"
	"github.com/teslashibe/go-avatarcam/pkg/retarget"
	"gocv.io/x/gocv"
)

var (
	// ErrSurfaceResized is returned when the primary surface no longer has the canvas size.
	ErrSurfaceResized = errors.New("compositor: surface size changed")

	// ErrClosed is returned by Compose after Close.
	ErrClosed = errors.New("compositor: closed")
)

// Config fixes the surface sizes for the lifetime of the compositor.
type Config struct {
	VideoWidth        int
	VideoHeight       int
	CanvasWidth       int
	CanvasHeight      int
	MinPoseConfidence float64
	MinPartConfidence float64
}

// DefaultConfig returns the 320x180 video, 640x360 canvas layout.
func DefaultConfig() Config {
	return Config{
		VideoWidth:        320,
		VideoHeight:       180,
		CanvasWidth:       640,
		CanvasHeight:      360,
		MinPoseConfidence: 0.15,
		MinPartConfidence: 0.1,
	}
}

// Scene is everything drawn in one tick.
type Scene struct {
	Background  color.RGBA
	Overlay     bool // draw detection keypoints, skeleton and face points
	Poses       []inference.Pose
	Faces       []inference.FaceLandmarkSet
	Avatar      retarget.Retargeter // nil or unbound skips avatar drawing
	AvatarDebug bool
}

// Compositor owns the drawing surfaces.
type Compositor struct {
	cfg Config

	mu      sync.Mutex
	surface gocv.Mat // primary, BGRA
	flipped gocv.Mat // offscreen, BGRA, horizontal flip of surface
	rgba    gocv.Mat // read-back, RGBA
	closed  bool
}

// New allocates both surfaces at canvas size.
func New(cfg Config) (*Compositor, error) {
	if cfg.VideoWidth <= 0 || cfg.VideoHeight <= 0 || cfg.CanvasWidth <= 0 || cfg.CanvasHeight <= 0 {
		return nil, fmt.Errorf("compositor: invalid sizes video %dx%d canvas %dx%d",
			cfg.VideoWidth, cfg.VideoHeight, cfg.CanvasWidth, cfg.CanvasHeight)
	}
	return &Compositor{
		cfg:     cfg,
		surface: gocv.NewMatWithSize(cfg.CanvasHeight, cfg.CanvasWidth, gocv.MatTypeCV8UC4),
		flipped: gocv.NewMatWithSize(cfg.CanvasHeight, cfg.CanvasWidth, gocv.MatTypeCV8UC4),
		rgba:    gocv.NewMat(),
	}, nil
}

// Config returns the compositor configuration.
func (c *Compositor) Config() Config {
	return c.cfg
}

// Compose draws scene and returns a freshly allocated composite.
func (c *Compositor) Compose(scene Scene) (*frame.Composite, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.surface.Cols() != c.cfg.CanvasWidth || c.surface.Rows() != c.cfg.CanvasHeight {
		return nil, fmt.Errorf("%w: %dx%d, want %dx%d", ErrSurfaceResized,
			c.surface.Cols(), c.surface.Rows(), c.cfg.CanvasWidth, c.cfg.CanvasHeight)
	}

	bg := scene.Background
	c.surface.SetTo(gocv.NewScalar(float64(bg.B), float64(bg.G), float64(bg.R), float64(bg.A)))

	sx := float64(c.cfg.CanvasWidth) / float64(c.cfg.VideoWidth)
	sy := float64(c.cfg.CanvasHeight) / float64(c.cfg.VideoHeight)

	if scene.Overlay {
		DrawDetections(&c.surface, scene.Poses, scene.Faces, c.cfg.MinPoseConfidence, c.cfg.MinPartConfidence, sx, sy)
	}

	if scene.Avatar != nil && scene.Avatar.Bound() != nil {
		scene.Avatar.Render(&c.surface, c.cfg.VideoWidth, c.cfg.VideoHeight)
		if scene.AvatarDebug {
			if dbg, ok := scene.Avatar.(retarget.DebugRenderer); ok {
				dbg.DebugRender(&c.surface, c.cfg.VideoWidth, c.cfg.VideoHeight)
			}
		}
	}

	gocv.Flip(c.surface, &c.flipped, 1)
	if err := gocv.CvtColor(c.flipped, &c.rgba, gocv.ColorBGRAToRGBA); err != nil {
		return nil, fmt.Errorf("compositor: read back: %w", err)
	}

	out := &frame.Composite{
		Data:   c.rgba.ToBytes(),
		Width:  c.cfg.CanvasWidth,
		Height: c.cfg.CanvasHeight,
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the surfaces.
func (c *Compositor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return errors.Join(c.surface.Close(), c.flipped.Close(), c.rgba.Close())
}
