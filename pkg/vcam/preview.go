package vcam

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Publisher broadcasts encoded images. *hub.Hub satisfies it.
type Publisher interface {
	HasClients() bool
	BroadcastBinary(data []byte)
}

// DefaultPreviewQuality is the JPEG quality of preview frames.
const DefaultPreviewQuality = 70

// Preview is a Device that publishes emitted frames as JPEG images.
// Encoding is skipped while nobody is subscribed.
type Preview struct {
	pub     Publisher
	quality int
	maxFPS  int

	mu            sync.Mutex
	width, height int
	started       bool
	last          time.Time
}

// NewPreview creates a preview device. maxFPS caps the publish rate; 0 publishes
// every frame.
func NewPreview(pub Publisher, quality, maxFPS int) *Preview {
	if quality <= 0 || quality > 100 {
		quality = DefaultPreviewQuality
	}
	return &Preview{pub: pub, quality: quality, maxFPS: maxFPS}
}

// Start implements Device.
func (p *Preview) Start(width, height, fps int, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width, p.height = width, height
	p.started = true
	return nil
}

// Send implements Device.
func (p *Preview) Send(idx FrameIndex, rgba []byte) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	w, h := p.width, p.height
	if p.maxFPS > 0 && time.Since(p.last) < time.Second/time.Duration(p.maxFPS) {
		p.mu.Unlock()
		return nil
	}
	p.last = time.Now()
	p.mu.Unlock()

	if !p.pub.HasClients() {
		return nil
	}
	jpeg, err := EncodeJPEG(rgba, w, h, p.quality)
	if err != nil {
		return err
	}
	p.pub.BroadcastBinary(jpeg)
	return nil
}

// Stop implements Device.
func (p *Preview) Stop() error {
	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
	return nil
}

// EncodeJPEG compresses a packed RGBA image.
func EncodeJPEG(rgba []byte, width, height, quality int) ([]byte, error) {
	if len(rgba) != width*height*4 {
		return nil, fmt.Errorf("vcam: %d bytes for %dx%d RGBA", len(rgba), width, height)
	}
	src, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC4, rgba)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	if err := gocv.CvtColor(src, &bgr, gocv.ColorRGBAToBGR); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, bgr, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
