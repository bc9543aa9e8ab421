package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Sample struct {
	Name     string
	Duration time.Duration
}

// Recorder collects duration samples under named timers. It is safe for
// concurrent use by any number of trials.
type Recorder struct {
	timers    sync.Map // string -> *Timer
	histogram *prometheus.HistogramVec
}

type Option func(*Recorder)

// WithRegisterer mirrors every sample into a Prometheus histogram registered
// on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Recorder) {
		r.histogram = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batchbench_operation_duration_seconds",
				Help:    "Duration of timed benchmark operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 18), // 0.1ms to ~13s
			},
			[]string{"timer"},
		)
		reg.MustRegister(r.histogram)
	}
}

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Timer returns the timer registered under name, creating it on first use.
func (r *Recorder) Timer(name string) *Timer {
	if t, ok := r.timers.Load(name); ok {
		return t.(*Timer)
	}
	t := &Timer{name: name}
	if r.histogram != nil {
		t.observer = r.histogram.WithLabelValues(name)
	}
	actual, _ := r.timers.LoadOrStore(name, t)
	return actual.(*Timer)
}

// Record is shorthand for r.Timer(name).Update(d).
func (r *Recorder) Record(name string, d time.Duration) {
	r.Timer(name).Update(d)
}

// Count returns the number of samples recorded under name without creating
// the timer.
func (r *Recorder) Count(name string) int {
	t, ok := r.timers.Load(name)
	if !ok {
		return 0
	}
	return t.(*Timer).Count()
}

// Snapshot aggregates every timer, sorted by name. Timers without samples
// are omitted.
func (r *Recorder) Snapshot() []Snapshot {
	var out []Snapshot
	r.timers.Range(func(_, v any) bool {
		if s := v.(*Timer).Snapshot(); s.Count > 0 {
			out = append(out, s)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type Timer struct {
	name     string
	count    atomic.Int64
	mu       sync.Mutex
	samples  []time.Duration
	observer prometheus.Observer
}

func (t *Timer) Name() string { return t.name }

func (t *Timer) Update(d time.Duration) {
	t.mu.Lock()
	t.samples = append(t.samples, d)
	t.mu.Unlock()
	t.count.Add(1)

	if t.observer != nil {
		t.observer.Observe(d.Seconds())
	}
}

// Time runs fn and records its duration. Nothing is recorded when fn fails.
func (t *Timer) Time(fn func() error) error {
	start := time.Now()
	if err := fn(); err != nil {
		return err
	}
	t.Update(time.Since(start))
	return nil
}

func (t *Timer) Count() int {
	return int(t.count.Load())
}

// Samples returns a copy of the recorded samples in recording order.
func (t *Timer) Samples() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, len(t.samples))
	copy(out, t.samples)
	return out
}

func (t *Timer) Snapshot() Snapshot {
	return Summarize(t.name, t.Samples())
}
