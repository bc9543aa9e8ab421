package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_ConcurrentUpdates(t *testing.T) {
	r := NewRecorder()

	const writers = 8
	const perWriter = 500

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			name := "flush"
			if w%2 == 0 {
				name = "drain"
			}
			for i := 0; i < perWriter; i++ {
				r.Record(name, time.Duration(i+1)*time.Microsecond)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, writers/2*perWriter, r.Count("flush"))
	assert.Equal(t, writers/2*perWriter, r.Count("drain"))
	assert.Equal(t, 0, r.Count("missing"))

	snaps := r.Snapshot()
	require.Len(t, snaps, 2)
	assert.Equal(t, "drain", snaps[0].Name)
	assert.Equal(t, "flush", snaps[1].Name)
	assert.Equal(t, time.Microsecond, snaps[1].Min)
	assert.Equal(t, perWriter*time.Microsecond, snaps[1].Max)
}

func TestTimer_TimeSkipsFailures(t *testing.T) {
	r := NewRecorder()
	timer := r.Timer("op")

	require.NoError(t, timer.Time(func() error { return nil }))
	err := timer.Time(func() error { return errors.New("boom") })
	require.Error(t, err)

	assert.Equal(t, 1, timer.Count())
	assert.Same(t, timer, r.Timer("op"))
}

func TestSummarize(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}

	s := Summarize("x", ds)
	assert.Equal(t, 100, s.Count)
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, 100*time.Millisecond, s.Max)
	assert.Equal(t, 50*time.Millisecond, s.P50)
	assert.Equal(t, 95*time.Millisecond, s.P95)
	assert.Equal(t, 99*time.Millisecond, s.P99)
	assert.Equal(t, 50500*time.Microsecond, s.Mean)

	// input order untouched
	assert.Equal(t, 100*time.Millisecond, ds[0])

	empty := Summarize("empty", nil)
	assert.Equal(t, 0, empty.Count)
	assert.Zero(t, empty.P99)
}

func TestRecorder_PrometheusMirror(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(WithRegisterer(reg))

	r.Record("flush", 2*time.Millisecond)
	r.Record("flush", 4*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "batchbench_operation_duration_seconds", families[0].GetName())
	require.Len(t, families[0].GetMetric(), 1)
	assert.Equal(t, uint64(2), families[0].GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestReporter_StartAndStop(t *testing.T) {
	r := NewRecorder()
	r.Record("flush", time.Millisecond)

	var mu sync.Mutex
	var calls int
	rep := NewReporter(r, SinkFunc(func(_ context.Context, snaps []Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		assert.Len(t, snaps, 1)
	}))

	stop := rep.Start(context.Background(), 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, time.Millisecond)
	stop()

	mu.Lock()
	after := calls
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, after, calls)
}
