// Package pipeline runs the render loop: capture, inference, composite and
// relay, one tick at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-avatarcam/internal/log"
	"github.com/teslashibe/go-avatarcam/pkg/camera"
	"github.com/teslashibe/go-avatarcam/pkg/compositor"
	"github.com/teslashibe/go-avatarcam/pkg/debug"
	"github.com/teslashibe/go-avatarcam/pkg/frame"
	"github.com/teslashibe/go-avatarcam/pkg/gui"
	"github.com/teslashibe/go-avatarcam/pkg/inference"
	"github.com/teslashibe/go-avatarcam/pkg/protocol"
	"github.com/teslashibe/go-avatarcam/pkg/relay"
	"github.com/teslashibe/go-avatarcam/pkg/retarget"
	"gocv.io/x/gocv"
)

// DefaultMaxInferenceFailures stops the loop after this many failed ticks in a row.
const DefaultMaxInferenceFailures = 30

// ErrInferenceFailed is returned by Run when inference keeps failing.
var ErrInferenceFailed = errors.New("pipeline: inference failed repeatedly")

// FrameSource is the capture side of a tick. *camera.Source satisfies it.
type FrameSource interface {
	Read(dst *frame.Video) error
	Switching() bool
}

// Estimator runs both models for a tick. *inference.Adapter satisfies it.
type Estimator interface {
	Estimate(ctx context.Context, seq uint64, poseFrame, faceFrame *frame.Video, cfg inference.PoseConfig) (*inference.Result, error)
}

// Composer draws a scene. *compositor.Compositor satisfies it.
type Composer interface {
	Compose(scene compositor.Scene) (*frame.Composite, error)
}

// StateLoader returns the current control panel snapshot. *gui.Store satisfies it.
type StateLoader interface {
	Load() *gui.State
}

// Publisher broadcasts JPEG previews. *hub.Hub satisfies it.
type Publisher interface {
	HasClients() bool
	BroadcastBinary(data []byte)
}

// StatusFunc receives operator-visible events.
type StatusFunc func(level protocol.Level, component, message string, err error)

// Config tunes the render loop.
type Config struct {
	Mirror               bool
	Pose                 inference.PoseConfig
	MinPoseConfidence    float64
	MinPartConfidence    float64
	MaxInferenceFailures int
	PreviewQuality       int
}

// Deps are the collaborators of a Renderer. Avatar, Preview and Status are optional.
type Deps struct {
	Source    FrameSource
	Estimator Estimator
	Composer  Composer
	Relay     relay.Sender
	State     StateLoader
	Avatar    retarget.Retargeter
	Preview   Publisher
	Status    StatusFunc
	Scheduler Scheduler
}

// SkipReason says why a tick did no work.
type SkipReason string

const (
	SkipSwitching SkipReason = "switching"
	SkipNoFrame   SkipReason = "no_frame"
	SkipInference SkipReason = "inference"
	SkipStale     SkipReason = "stale"
)

// TickResult describes one tick.
type TickResult struct {
	Seq           uint64
	Skipped       SkipReason // empty when the tick rendered
	Pose          *inference.Pose
	AvatarUpdated bool
	Relayed       bool
}

// Renderer drives capture, inference, compositing and relay.
type Renderer struct {
	deps    Deps
	cfg     Config
	metrics *MetricsCollector
	logger  *slog.Logger

	tickMu   sync.Mutex // one tick at a time
	seq      atomic.Uint64
	failures int

	video    *frame.Video // camera frame, pose input
	mirrored *frame.Video // preview surface, face input
}

// NewRenderer checks deps and allocates frame buffers.
func NewRenderer(cfg Config, deps Deps) (*Renderer, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("pipeline: no frame source")
	case deps.Estimator == nil:
		return nil, errors.New("pipeline: no estimator")
	case deps.Composer == nil:
		return nil, errors.New("pipeline: no composer")
	case deps.Relay == nil:
		return nil, errors.New("pipeline: no relay")
	case deps.State == nil:
		return nil, errors.New("pipeline: no state")
	}
	if deps.Scheduler == nil {
		deps.Scheduler = NewVSync(DefaultRefreshRate)
	}
	if cfg.MaxInferenceFailures <= 0 {
		cfg.MaxInferenceFailures = DefaultMaxInferenceFailures
	}
	if cfg.PreviewQuality <= 0 {
		cfg.PreviewQuality = 70
	}
	return &Renderer{
		deps:     deps,
		cfg:      cfg,
		metrics:  NewMetricsCollector(),
		logger:   log.Component("renderer"),
		video:    frame.NewVideo(),
		mirrored: frame.NewVideo(),
	}, nil
}

// Metrics returns the collector fed by Tick.
func (r *Renderer) Metrics() *MetricsCollector {
	return r.metrics
}

// Run ticks until ctx is done or inference fails MaxInferenceFailures
// times in a row.
func (r *Renderer) Run(ctx context.Context) error {
	r.logger.Info("render loop started", "mirror", r.cfg.Mirror)
	defer r.logger.Info("render loop stopped")

	for {
		if err := r.deps.Scheduler.WaitFrame(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if _, err := r.Tick(ctx); err != nil {
			return err
		}
	}
}

// Tick runs one iteration. A non-nil error is fatal for the loop.
func (r *Renderer) Tick(ctx context.Context) (TickResult, error) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	if r.deps.Source.Switching() {
		return r.skip(TickResult{}, SkipSwitching), nil
	}

	st := r.deps.State.Load()
	seq := r.seq.Add(1)
	res := TickResult{Seq: seq}

	if st.Debug.FPS {
		r.metrics.Begin(seq)
	}

	if err := r.deps.Source.Read(r.video); err != nil {
		if errors.Is(err, camera.ErrSwitching) {
			return r.skip(res, SkipSwitching), nil
		}
		debug.FrameLog("no camera frame", "seq", seq, "error", err)
		return r.skip(res, SkipNoFrame), nil
	}
	r.mirror()

	tickCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	poseCfg := r.cfg.Pose
	poseCfg.Flip = r.cfg.Mirror
	est, err := r.deps.Estimator.Estimate(tickCtx, seq, r.video, r.mirrored, poseCfg)
	if err != nil {
		return r.inferenceFailed(res, err)
	}
	if est.Seq != seq {
		r.logger.Warn("discarding inference result from another tick", "seq", seq, "result_seq", est.Seq)
		return r.skip(res, SkipStale), nil
	}
	r.failures = 0
	r.metrics.MarkInference()

	pose := est.FirstPose()
	if pose != nil && r.cfg.Mirror {
		flipped := inference.FlipPose(*pose)
		pose = &flipped
	}
	res.Pose = pose

	avatar := r.deps.Avatar
	if avatar != nil && avatar.Bound() != nil && pose != nil && pose.Usable(r.cfg.MinPoseConfidence) {
		avatar.Update(pose, retarget.ToFaceFrame(est.FirstFace()))
		res.AvatarUpdated = true
	}

	// no person in view: draw the background alone
	drawn := avatar
	if pose == nil {
		drawn = nil
	}

	composite, err := r.deps.Composer.Compose(compositor.Scene{
		Background:  st.BackgroundColor(),
		Overlay:     st.ShowOverlay(),
		Poses:       est.Poses,
		Faces:       est.Faces,
		Avatar:      drawn,
		AvatarDebug: st.Debug.Avatar,
	})
	if err != nil {
		r.metrics.Abort()
		return res, fmt.Errorf("pipeline: compose: %w", err)
	}
	r.metrics.MarkComposed()
	r.metrics.End()
	r.metrics.IncrementRendered()

	if err := r.deps.Relay.Send(composite); err != nil {
		r.metrics.IncrementRelayErrors()
		r.logger.Warn("relay send failed", "seq", seq, "error", err)
	} else {
		r.metrics.IncrementRelayed()
		res.Relayed = true
	}

	if !st.Camera.Hidden {
		r.publishPreview(st, est)
	}
	debug.FrameLog("tick rendered", "seq", seq, "poses", len(est.Poses), "faces", len(est.Faces))
	return res, nil
}

func (r *Renderer) skip(res TickResult, reason SkipReason) TickResult {
	r.metrics.Abort()
	r.metrics.IncrementSkipped()
	res.Skipped = reason
	return res
}

func (r *Renderer) inferenceFailed(res TickResult, err error) (TickResult, error) {
	r.failures++
	r.metrics.IncrementInferenceFailures()
	r.logger.Warn("inference failed, skipping tick", "seq", res.Seq, "consecutive", r.failures, "error", err)
	r.report(protocol.LevelWarn, "inference failed", err)

	if r.failures >= r.cfg.MaxInferenceFailures {
		fatal := fmt.Errorf("%w: %d consecutive failures: %w", ErrInferenceFailed, r.failures, err)
		r.report(protocol.LevelFatal, "render loop stopped", fatal)
		return r.skip(res, SkipInference), fatal
	}
	return r.skip(res, SkipInference), nil
}

func (r *Renderer) report(level protocol.Level, msg string, err error) {
	if r.deps.Status != nil {
		r.deps.Status(level, "renderer", msg, err)
	}
}

// mirror draws the camera frame flipped horizontally into the preview surface.
func (r *Renderer) mirror() {
	if r.cfg.Mirror {
		gocv.Flip(r.video.Mat, &r.mirrored.Mat, 1)
	} else {
		r.video.Mat.CopyTo(&r.mirrored.Mat)
	}
	r.mirrored.Width = r.video.Width
	r.mirrored.Height = r.video.Height
}

func (r *Renderer) publishPreview(st *gui.State, est *inference.Result) {
	pub := r.deps.Preview
	if pub == nil || !pub.HasClients() {
		return
	}
	if st.ShowOverlay() {
		compositor.DrawDetections(&r.mirrored.Mat, est.Poses, est.Faces,
			r.cfg.MinPoseConfidence, r.cfg.MinPartConfidence, 1, 1)
	}
	jpeg, err := encodeJPEG(r.mirrored.Mat, r.cfg.PreviewQuality)
	if err != nil {
		r.logger.Debug("preview encode failed", "error", err)
		return
	}
	pub.BroadcastBinary(jpeg)
}

// Close releases frame buffers. Call after Run returns.
func (r *Renderer) Close() error {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	return errors.Join(r.video.Close(), r.mirrored.Close())
}

func encodeJPEG(img gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
