package pipeline

import (
	"sync"
	"time"

	"github.com/teslashibe/go-avatarcam/pkg/protocol"
)

// historySize is how many rendered ticks are kept for averaging.
const historySize = 100

// fpsSmoothing weights the newest frame interval in the FPS moving average.
const fpsSmoothing = 0.1

// Metrics records the timing of one rendered tick.
// Durations are measured from the tick start.
type Metrics struct {
	Seq uint64

	Start     time.Time
	Inference time.Duration // frame read to both estimators done
	Compose   time.Duration // until the composite was read back
	Total     time.Duration // until the frame was handed to the relay
}

// Counters are cumulative tick outcomes.
type Counters struct {
	Rendered          uint64
	Skipped           uint64
	Relayed           uint64
	RelayErrors       uint64
	InferenceFailures uint64
	FPS               float64
	LastFrame         time.Time
}

// MetricsCollector tracks per-tick timings and counters.
// It is goroutine-safe; the render loop writes and the API reads.
type MetricsCollector struct {
	mu       sync.Mutex
	current  Metrics
	history  []Metrics
	counters Counters
	window   bool // fps window open for the current tick

	onUpdate func(Metrics)
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]Metrics, 0, historySize),
	}
}

// OnUpdate sets a callback fired after each rendered tick.
func (m *MetricsCollector) OnUpdate(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Begin opens the measurement window for tick seq.
func (m *MetricsCollector) Begin(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Metrics{Seq: seq, Start: time.Now()}
	m.window = true
}

// MarkInference records when inference finished.
func (m *MetricsCollector) MarkInference() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.window {
		m.current.Inference = time.Since(m.current.Start)
	}
}

// MarkComposed records when the composite was ready.
func (m *MetricsCollector) MarkComposed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.window {
		m.current.Compose = time.Since(m.current.Start)
	}
}

// End closes the window and folds the tick into the FPS average.
func (m *MetricsCollector) End() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.window {
		return
	}
	m.window = false
	m.current.Total = time.Since(m.current.Start)

	if !m.counters.LastFrame.IsZero() {
		if dt := m.current.Start.Sub(m.counters.LastFrame); dt > 0 {
			fps := float64(time.Second) / float64(dt)
			if m.counters.FPS == 0 {
				m.counters.FPS = fps
			} else {
				m.counters.FPS += fpsSmoothing * (fps - m.counters.FPS)
			}
		}
	}
	m.counters.LastFrame = m.current.Start

	m.history = append(m.history, m.current)
	if len(m.history) > historySize {
		m.history = m.history[1:]
	}
	if m.onUpdate != nil {
		m.onUpdate(m.current)
	}
}

// Abort closes the window without recording the tick.
func (m *MetricsCollector) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = false
}

// IncrementRendered counts a tick that produced a composite.
func (m *MetricsCollector) IncrementRendered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.Rendered++
}

// IncrementSkipped counts a tick that did no work.
func (m *MetricsCollector) IncrementSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.Skipped++
}

// IncrementRelayed counts a composite accepted by the relay.
func (m *MetricsCollector) IncrementRelayed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.Relayed++
}

// IncrementRelayErrors counts a composite the relay refused.
func (m *MetricsCollector) IncrementRelayErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.RelayErrors++
}

// IncrementInferenceFailures counts a failed inference call.
func (m *MetricsCollector) IncrementInferenceFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.InferenceFailures++
}

// Counters returns the cumulative counters.
func (m *MetricsCollector) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// Average returns mean timings over recent measured ticks.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return Metrics{}
	}
	var avg Metrics
	for _, h := range m.history {
		avg.Inference += h.Inference
		avg.Compose += h.Compose
		avg.Total += h.Total
	}
	n := time.Duration(len(m.history))
	avg.Inference /= n
	avg.Compose /= n
	avg.Total /= n
	return avg
}

// Snapshot converts the counters for the status stream.
func (m *MetricsCollector) Snapshot() protocol.RendererStats {
	c := m.Counters()
	avg := m.Average()
	s := protocol.RendererStats{
		FPS:               c.FPS,
		Rendered:          c.Rendered,
		Skipped:           c.Skipped,
		Relayed:           c.Relayed,
		InferenceFailures: c.InferenceFailures,
		InferenceMs:       float64(avg.Inference) / float64(time.Millisecond),
	}
	if !c.LastFrame.IsZero() {
		s.LastFrame = c.LastFrame.UnixMilli()
	}
	return s
}
