package inference

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-avatarcam/pkg/frame"
)

// Mock implements PoseEstimator and FaceEstimator for testing.
type Mock struct {
	// PoseFunc is called when EstimatePoses is invoked.
	PoseFunc func(ctx context.Context, f *frame.Video, cfg PoseConfig) ([]Pose, error)

	// FaceFunc is called when EstimateFaces is invoked.
	FaceFunc func(ctx context.Context, f *frame.Video) ([]FaceLandmarkSet, error)

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Config PoseConfig
	Time   time.Time
}

// NewMock creates a mock returning one confident pose and one face.
func NewMock() *Mock {
	return &Mock{
		PoseFunc: func(ctx context.Context, f *frame.Video, cfg PoseConfig) ([]Pose, error) {
			return []Pose{UniformPose(0.9, 160, 90)}, nil
		},
		FaceFunc: func(ctx context.Context, f *frame.Video) ([]FaceLandmarkSet, error) {
			return []FaceLandmarkSet{{
				Score:      0.9,
				ScaledMesh: []Point3{{150, 60, 0}, {170, 60, 0}, {160, 70, 0}, {153, 80, 0}, {167, 80, 0}},
				Parts:      YuNetParts,
			}}, nil
		},
	}
}

// WithScore returns a mock whose single pose has the given score.
func WithScore(score float64) *Mock {
	m := NewMock()
	m.PoseFunc = func(ctx context.Context, f *frame.Video, cfg PoseConfig) ([]Pose, error) {
		return []Pose{UniformPose(score, 160, 90)}, nil
	}
	return m
}

// WithError returns a mock whose estimators always fail with err.
func WithError(err error) *Mock {
	return &Mock{
		PoseFunc: func(ctx context.Context, f *frame.Video, cfg PoseConfig) ([]Pose, error) {
			return nil, err
		},
		FaceFunc: func(ctx context.Context, f *frame.Video) ([]FaceLandmarkSet, error) {
			return nil, err
		},
	}
}

// UniformPose returns a pose with every part at (x, y) and the given score.
func UniformPose(score, x, y float64) Pose {
	kps := make([]Keypoint, NumParts)
	for i, name := range PartNames {
		kps[i] = Keypoint{Part: name, X: x, Y: y, Score: score}
	}
	return Pose{Score: score, Keypoints: kps}
}

// EstimatePoses calls PoseFunc and records the call.
func (m *Mock) EstimatePoses(ctx context.Context, f *frame.Video, cfg PoseConfig) ([]Pose, error) {
	m.record("EstimatePoses", cfg)
	if m.PoseFunc != nil {
		return m.PoseFunc(ctx, f, cfg)
	}
	return nil, nil
}

// EstimateFaces calls FaceFunc and records the call.
func (m *Mock) EstimateFaces(ctx context.Context, f *frame.Video) ([]FaceLandmarkSet, error) {
	m.record("EstimateFaces", PoseConfig{})
	if m.FaceFunc != nil {
		return m.FaceFunc(ctx, f)
	}
	return nil, nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.record("Close", PoseConfig{})
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *Mock) record(method string, cfg PoseConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Config: cfg,
		Time:   time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// LastCall returns the most recent call, or nil if none.
func (m *Mock) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
