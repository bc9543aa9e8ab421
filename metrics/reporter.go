package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink receives aggregated snapshots. Implementations must not retain the
// slice.
type Sink interface {
	Report(ctx context.Context, snapshots []Snapshot)
}

type SinkFunc func(ctx context.Context, snapshots []Snapshot)

func (f SinkFunc) Report(ctx context.Context, snapshots []Snapshot) { f(ctx, snapshots) }

type Reporter struct {
	recorder *Recorder
	sink     Sink
	mu       sync.Mutex
}

func NewReporter(recorder *Recorder, sink Sink) *Reporter {
	return &Reporter{recorder: recorder, sink: sink}
}

// Report pushes one snapshot of every timer to the sink.
func (r *Reporter) Report(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink.Report(ctx, r.recorder.Snapshot())
}

// Start reports every interval until ctx is done or the returned stop
// function is called. A non-positive interval disables periodic reporting.
func (r *Reporter) Start(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Report(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

type SlogSink struct {
	Logger *slog.Logger
	Level  slog.Level
}

func (s SlogSink) Report(ctx context.Context, snapshots []Snapshot) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, snap := range snapshots {
		logger.Log(ctx, s.Level, "timer",
			"name", snap.Name,
			"count", snap.Count,
			"mean", snap.Mean,
			"min", snap.Min,
			"max", snap.Max,
			"p50", snap.P50,
			"p95", snap.P95,
			"p99", snap.P99,
		)
	}
}
