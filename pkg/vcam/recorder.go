package vcam

import (
	"sync"
	"time"
)

// Emission is one frame received by a Recorder.
type Emission struct {
	Index FrameIndex
	Data  []byte
	At    time.Time
}

// Recorder keeps emitted frames in memory. It backs dry runs and tests.
type Recorder struct {
	// StartErr and SendErr, when set, are returned by Start and Send.
	StartErr error
	SendErr  error

	// Limit caps retained emissions; older ones are discarded. 0 keeps all.
	Limit int

	mu                 sync.Mutex
	width, height, fps int
	delay              time.Duration
	starts, stops      int
	emissions          []Emission
	total              int
}

// NewRecorder creates a recorder retaining at most limit emissions.
func NewRecorder(limit int) *Recorder {
	return &Recorder{Limit: limit}
}

// Start implements Device.
func (r *Recorder) Start(width, height, fps int, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return r.StartErr
	}
	r.width, r.height, r.fps, r.delay = width, height, fps, delay
	r.starts++
	return nil
}

// Send implements Device. The payload is retained without copying.
func (r *Recorder) Send(idx FrameIndex, rgba []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.starts == 0 {
		return ErrNotStarted
	}
	if r.SendErr != nil {
		return r.SendErr
	}
	r.emissions = append(r.emissions, Emission{Index: idx, Data: rgba, At: time.Now()})
	if r.Limit > 0 && len(r.emissions) > r.Limit {
		r.emissions = r.emissions[len(r.emissions)-r.Limit:]
	}
	r.total++
	return nil
}

// Stop implements Device.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

// Format returns the parameters of the last Start.
func (r *Recorder) Format() (width, height, fps int, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height, r.fps, r.delay
}

// Starts returns how many times Start succeeded.
func (r *Recorder) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

// Stops returns how many times Stop was called.
func (r *Recorder) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

// Emissions returns a copy of the retained emissions.
func (r *Recorder) Emissions() []Emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Emission, len(r.emissions))
	copy(out, r.emissions)
	return out
}

// Total returns the number of frames received, including discarded ones.
func (r *Recorder) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// WaitTotal blocks until Total reaches n or timeout elapses.
func (r *Recorder) WaitTotal(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for r.Total() < n {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}
