package bench

import (
	"bytes"
	"context"
	"testing"
	"time"

	"batchbench/cursor"
	"batchbench/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMedianDuration(t *testing.T) {
	assert.Zero(t, MedianDuration(nil))
	assert.Equal(t, 2*time.Millisecond, MedianDuration([]time.Duration{3 * time.Millisecond, time.Millisecond, 2 * time.Millisecond}))
	assert.Equal(t, 3*time.Millisecond, MedianDuration([]time.Duration{4 * time.Millisecond, time.Millisecond, 3 * time.Millisecond, 2 * time.Millisecond}))
}

func TestSteadyState(t *testing.T) {
	steady, dev := SteadyState([]time.Duration{100 * time.Millisecond}, SteadyTolerance)
	assert.True(t, steady)
	assert.Zero(t, dev)

	steady, dev = SteadyState([]time.Duration{98 * time.Millisecond, 100 * time.Millisecond, 102 * time.Millisecond}, SteadyTolerance)
	assert.True(t, steady)
	assert.InDelta(t, 0.02, dev, 1e-9)

	steady, dev = SteadyState([]time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 150 * time.Millisecond}, SteadyTolerance)
	assert.False(t, steady)
	assert.InDelta(t, 0.5, dev, 1e-9)
}

func TestConfigurationDefaults(t *testing.T) {
	conf := Configuration{Backend: "postgres"}.WithDefaults()
	assert.Equal(t, KindWrite, conf.Kind)
	assert.Equal(t, StrategyBatched, conf.Write.Strategy)
	assert.Equal(t, 50, conf.Write.BatchSize)
	assert.Equal(t, 1, conf.Trials)
	assert.Equal(t, "postgres/write/batched/batch=50", conf.Label)

	read := Configuration{Backend: "mysql", Kind: KindRead, Read: ReadConfig{Mode: ReadRandom, Rows: 4}}.WithDefaults()
	assert.Equal(t, []int{1, 2, 3, 4}, read.Read.Positions)
}

func TestIsolationUnmarshalText(t *testing.T) {
	var l Isolation
	require.NoError(t, l.UnmarshalText([]byte("read-committed-snapshot")))
	assert.Equal(t, ReadCommittedSnapshot, l)
	assert.True(t, l.IsSnapshot())
	assert.Equal(t, "READ COMMITTED", l.SQL())

	assert.Error(t, l.UnmarshalText([]byte("chaos")))
}

func TestPrintCapabilities(t *testing.T) {
	var buf bytes.Buffer

	PrintCapabilities(&buf, "sqlite", Capabilities{
		Isolation:  []Isolation{Serializable},
		Strategies: []Strategy{StrategyDirect},
		Cursors:    cursor.Modes{{Scrollability: cursor.ForwardOnly, Concurrency: cursor.ReadOnly}},
	})

	out := buf.String()
	assert.Contains(t, out, "sqlite")
	assert.Contains(t, out, "serializable")
	assert.Contains(t, out, "direct")
	assert.Regexp(t, `forward-only/read-only\s+yes`, out)
	assert.Regexp(t, `scroll-sensitive/updatable\s+no`, out)
}

func TestTableSink(t *testing.T) {
	var (
		buf bytes.Buffer
		rec = metrics.NewRecorder()
	)
	rec.Record("w.flush", 2*time.Millisecond)

	metrics.NewReporter(rec, TableSink{W: &buf}).Report(context.Background())
	assert.Contains(t, buf.String(), "w.flush")
	assert.Contains(t, buf.String(), "2.00ms")
}
