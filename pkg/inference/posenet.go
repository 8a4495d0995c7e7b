package inference

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"github.com/teslashibe/go-avatarcam/internal/log"
	"github.com/teslashibe/go-avatarcam/pkg/debug"
	"github.com/teslashibe/go-avatarcam/pkg/frame"
	"gocv.io/x/gocv"
)

// PoseNetConfig configures the PoseNet backend.
type PoseNetConfig struct {
	ModelPath    string // ONNX export of PoseNet MobileNetV1
	InputSize    int    // square input resolution, stride-aligned (257 for stride 16)
	OutputStride int
	HeatmapLayer string
	OffsetLayer  string
	// HeatmapLogits is true when the heatmap output still needs a sigmoid.
	HeatmapLogits bool
}

// DefaultPoseNetConfig returns settings for the MobileNetV1 1.0 stride-16 export.
func DefaultPoseNetConfig() PoseNetConfig {
	return PoseNetConfig{
		ModelPath:     "models/posenet_mobilenet_257.onnx",
		InputSize:     257,
		OutputStride:  16,
		HeatmapLayer:  "heatmap",
		OffsetLayer:   "offset_2",
		HeatmapLogits: true,
	}
}

// PoseNet estimates a single pose per frame with an OpenCV DNN net.
type PoseNet struct {
	net    gocv.Net
	config PoseNetConfig
	mu     sync.Mutex // Protects inference
}

// NewPoseNet loads the PoseNet model.
func NewPoseNet(cfg PoseNetConfig) (*PoseNet, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.ModelPath)
	}
	if cfg.InputSize <= 0 || cfg.OutputStride <= 0 {
		return nil, fmt.Errorf("posenet: invalid input size %d / stride %d", cfg.InputSize, cfg.OutputStride)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrModelLoad, cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	log.Component("inference").Info("posenet loaded", "model", cfg.ModelPath, "input", cfg.InputSize)
	return &PoseNet{net: net, config: cfg}, nil
}

// EstimatePoses runs the net on f and decodes at most one pose.
func (p *PoseNet) EstimatePoses(ctx context.Context, f *frame.Video, cfg PoseConfig) ([]Pose, error) {
	if f.Empty() {
		return nil, ErrEmptyFrame
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	size := p.config.InputSize
	blob := gocv.BlobFromImage(f.Mat, 1.0/127.5, image.Pt(size, size),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	p.net.SetInput(blob, "")
	outs := p.net.ForwardLayers([]string{p.config.HeatmapLayer, p.config.OffsetLayer})
	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()
	if len(outs) != 2 {
		return nil, fmt.Errorf("%w: %d outputs", ErrUnexpectedOutput, len(outs))
	}

	heat, err := newTensor(outs[0], NumParts)
	if err != nil {
		return nil, fmt.Errorf("heatmap: %w", err)
	}
	off, err := newTensor(outs[1], 2*NumParts)
	if err != nil {
		return nil, fmt.Errorf("offsets: %w", err)
	}

	scaleX := float64(f.Width) / float64(size)
	scaleY := float64(f.Height) / float64(size)
	pose := decodeSinglePose(heat, off, p.config.OutputStride, scaleX, scaleY, p.config.HeatmapLogits)

	if cfg.Flip {
		for i := range pose.Keypoints {
			pose.Keypoints[i].X = float64(f.Width) - 1 - pose.Keypoints[i].X
		}
	}

	debug.FrameLog("posenet decoded", "score", pose.Score)

	if pose.Score < cfg.MinScore || cfg.MaxDetections == 0 {
		return nil, nil
	}
	return []Pose{pose}, nil
}

// Close releases the net.
func (p *PoseNet) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.net.Close()
}

// tensor is a 4-D float32 model output with channels either first or last.
type tensor struct {
	data          []float32
	h, w, c       int
	channelsFirst bool
}

func newTensor(m gocv.Mat, channels int) (tensor, error) {
	dims := m.Size()
	if len(dims) != 4 {
		return tensor{}, fmt.Errorf("%w: dims %v", ErrUnexpectedOutput, dims)
	}
	data, err := m.DataPtrFloat32()
	if err != nil {
		return tensor{}, err
	}
	t := tensor{data: data, c: channels}
	switch {
	case dims[1] == channels:
		t.channelsFirst = true
		t.h, t.w = dims[2], dims[3]
	case dims[3] == channels:
		t.h, t.w = dims[1], dims[2]
	default:
		return tensor{}, fmt.Errorf("%w: dims %v, want %d channels", ErrUnexpectedOutput, dims, channels)
	}
	if len(t.data) < t.h*t.w*t.c {
		return tensor{}, fmt.Errorf("%w: %d values for dims %v", ErrUnexpectedOutput, len(t.data), dims)
	}
	return t, nil
}

func (t tensor) at(y, x, c int) float64 {
	if t.channelsFirst {
		return float64(t.data[c*t.h*t.w+y*t.w+x])
	}
	return float64(t.data[(y*t.w+x)*t.c+c])
}

// decodeSinglePose takes the heatmap argmax per part and refines it with the
// short-range offsets. Offsets hold all y values first, then all x values.
// The pose score is the mean keypoint score.
func decodeSinglePose(heat, off tensor, stride int, scaleX, scaleY float64, logits bool) Pose {
	kps := make([]Keypoint, NumParts)
	var total float64

	for k := 0; k < NumParts; k++ {
		bestY, bestX := 0, 0
		best := math.Inf(-1)
		for y := 0; y < heat.h; y++ {
			for x := 0; x < heat.w; x++ {
				if v := heat.at(y, x, k); v > best {
					best, bestY, bestX = v, y, x
				}
			}
		}

		score := best
		if logits {
			score = sigmoid(best)
		}
		py := float64(bestY*stride) + off.at(bestY, bestX, k)
		px := float64(bestX*stride) + off.at(bestY, bestX, k+NumParts)

		kps[k] = Keypoint{
			Part:  PartNames[k],
			X:     px * scaleX,
			Y:     py * scaleY,
			Score: score,
		}
		total += score
	}

	return Pose{Score: total / NumParts, Keypoints: kps}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
