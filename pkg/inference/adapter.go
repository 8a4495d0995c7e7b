package inference

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-avatarcam/internal/log"
	"github.com/teslashibe/go-avatarcam/pkg/frame"
	"golang.org/x/sync/errgroup"
)

// Result is the combined output of one tick's inference, tagged with the
// tick sequence number that requested it.
type Result struct {
	Seq     uint64
	Poses   []Pose
	Faces   []FaceLandmarkSet
	Elapsed time.Duration
}

// FirstPose returns the first pose, or nil. Decoding is single-person.
func (r *Result) FirstPose() *Pose {
	if r == nil || len(r.Poses) == 0 {
		return nil
	}
	return &r.Poses[0]
}

// FirstFace returns the first face, or nil.
func (r *Result) FirstFace() *FaceLandmarkSet {
	if r == nil || len(r.Faces) == 0 {
		return nil
	}
	return &r.Faces[0]
}

// Adapter runs pose and face estimation concurrently.
type Adapter struct {
	pose   PoseEstimator
	face   FaceEstimator
	logger *slog.Logger
}

// NewAdapter creates an adapter. face may be nil to run pose only.
func NewAdapter(pose PoseEstimator, face FaceEstimator) *Adapter {
	return &Adapter{
		pose:   pose,
		face:   face,
		logger: log.Component("inference"),
	}
}

// Estimate issues pose estimation on poseFrame and face estimation on faceFrame
// at the same time and waits for both. A failure in either cancels the other
// and is returned as an *EstimateError.
func (a *Adapter) Estimate(ctx context.Context, seq uint64, poseFrame, faceFrame *frame.Video, cfg PoseConfig) (*Result, error) {
	if a.pose == nil {
		return nil, wrapError("pose", errors.New("no pose estimator"))
	}
	start := time.Now()

	var (
		poses []Pose
		faces []FaceLandmarkSet
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := a.pose.EstimatePoses(gctx, poseFrame, cfg)
		if err != nil {
			return wrapError("pose", err)
		}
		poses = p
		return nil
	})
	if a.face != nil {
		g.Go(func() error {
			f, err := a.face.EstimateFaces(gctx, faceFrame)
			if err != nil {
				return wrapError("face", err)
			}
			faces = f
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Result{
		Seq:     seq,
		Poses:   poses,
		Faces:   faces,
		Elapsed: time.Since(start),
	}, nil
}

// Close releases both estimators.
func (a *Adapter) Close() error {
	var errs []error
	if a.pose != nil {
		errs = append(errs, a.pose.Close())
	}
	if a.face != nil {
		errs = append(errs, a.face.Close())
	}
	return errors.Join(errs...)
}
