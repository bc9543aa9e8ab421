package bench

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"batchbench/batch"
	"batchbench/cursor"
	"batchbench/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	mu      sync.Mutex
	pending int
	rejects map[int]bool
	seen    int
	sent    []int
	closed  bool
	delay   time.Duration
	panics  bool
}

func (e *fakeExecutor) Accumulate(_ context.Context, u batch.Unit) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.panics {
		panic("executor exploded")
	}
	i := e.seen
	e.seen++
	if e.rejects[i] {
		return fmt.Errorf("constraint violation on unit %v", u.Args())
	}
	e.pending++
	return nil
}

func (e *fakeExecutor) SendBatch(context.Context) (batch.Result, error) {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	counts := make([]int64, e.pending)
	for i := range counts {
		counts[i] = 1
	}
	e.sent = append(e.sent, e.pending)
	e.pending = 0
	return batch.PerUnitResult(counts), nil
}

func (e *fakeExecutor) Close(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

type fakeSource struct {
	rows  [][]any
	modes cursor.Modes
}

func (s fakeSource) SupportsCursor(m cursor.Mode) bool { return s.modes.SupportsCursor(m) }

func (s fakeSource) Open(context.Context, string, cursor.Config, ...any) (cursor.Cursor, error) {
	return cursor.NewBuffered(s.rows, nil), nil
}

type fakeSession struct {
	prov *fakeProvider
	exec *fakeExecutor
}

func (s *fakeSession) Executor(context.Context, WriteConfig) (batch.Executor, error) {
	return s.exec, nil
}

func (s *fakeSession) Cursors() cursor.Source {
	return fakeSource{rows: s.prov.rows, modes: s.prov.caps.Cursors}
}

func (s *fakeSession) SetIsolation(_ context.Context, level Isolation) error {
	s.prov.mu.Lock()
	defer s.prov.mu.Unlock()
	s.prov.isolation = append(s.prov.isolation, level)
	return nil
}

type fakeProvider struct {
	name       string
	caps       Capabilities
	acquireErr error
	rows       [][]any
	newExec    func() *fakeExecutor

	mu        sync.Mutex
	acquired  int
	released  atomic.Int32
	execs     []*fakeExecutor
	isolation []Isolation
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name: name,
		caps: Capabilities{
			Isolation:  StandardIsolation,
			Strategies: []Strategy{StrategyDirect, StrategyBatched},
			Cursors:    cursor.AllModes(),
		},
		rows:    [][]any{{1, "a"}, {2, "b"}, {3, "c"}},
		newExec: func() *fakeExecutor { return &fakeExecutor{} },
	}
}

func (p *fakeProvider) Name() string               { return p.name }
func (p *fakeProvider) Capabilities() Capabilities { return p.caps }

func (p *fakeProvider) Acquire(context.Context) (Session, func(), error) {
	if p.acquireErr != nil {
		return nil, nil, p.acquireErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.acquired++
	exec := p.newExec()
	p.execs = append(p.execs, exec)
	return &fakeSession{prov: p, exec: exec}, func() { p.released.Add(1) }, nil
}

func units(i int) batch.Unit { return batch.Positional(i, fmt.Sprintf("post %d", i)) }

func TestRunMatrixKeepsOrderAndRecordsAcquisitionFailure(t *testing.T) {
	var (
		good = newFakeProvider("good")
		bad  = newFakeProvider("bad")
	)
	bad.acquireErr = errors.New("connection refused")

	runner := Runner{
		Providers:   map[string]Provider{"good": good, "bad": bad},
		Units:       units,
		Parallelism: 4,
	}

	report := runner.Run(context.Background(), []Configuration{
		{Label: "one", Backend: "good", Write: WriteConfig{Units: 100, BatchSize: 10}},
		{Label: "two", Backend: "bad", Write: WriteConfig{Units: 100, BatchSize: 10}},
		{Label: "three", Backend: "good", Kind: KindRead, Read: ReadConfig{Cursor: cursor.Config{FetchSize: 10}}},
		{Label: "four", Backend: "good", Write: WriteConfig{Units: 25, BatchSize: 10}},
	})

	require.Len(t, report.Results, 4)
	assert.Equal(t, []string{"one", "two", "three", "four"}, []string{
		report.Results[0].Label, report.Results[1].Label, report.Results[2].Label, report.Results[3].Label,
	})
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, report.Failed())

	var acqErr *AcquisitionError
	require.ErrorAs(t, report.Results[1].Err, &acqErr)
	assert.Equal(t, "bad", acqErr.Backend)
	assert.Equal(t, "AcquisitionError", report.Results[1].ErrorKind())

	assert.Equal(t, 100, report.Results[0].Write.Sent)
	assert.Equal(t, 10, report.Results[0].Write.Flushes)
	assert.Equal(t, 3, report.Results[2].Read.Rows)
	assert.Equal(t, 25, report.Results[3].Write.Sent)
	assert.Equal(t, 3, report.Results[3].Write.Flushes)

	assert.Equal(t, 3, good.acquired)
	assert.EqualValues(t, 3, good.released.Load())
	for _, exec := range good.execs {
		if exec.seen > 0 {
			assert.True(t, exec.closed)
		}
	}

	assert.Equal(t, 10, runner.Recorder.Count("one.flush"))
	assert.Equal(t, 1, runner.Recorder.Count("three.drain"))
}

func TestRunReleasesSessionOnPanic(t *testing.T) {
	prov := newFakeProvider("pg")
	prov.newExec = func() *fakeExecutor { return &fakeExecutor{panics: true} }

	runner := Runner{Providers: map[string]Provider{"pg": prov}, Units: units}
	report := runner.Run(context.Background(), []Configuration{
		{Label: "boom", Backend: "pg", Write: WriteConfig{Units: 10, BatchSize: 5}},
	})

	require.Len(t, report.Results, 1)
	require.Error(t, report.Results[0].Err)
	assert.Equal(t, "Error", report.Results[0].ErrorKind())
	assert.EqualValues(t, 1, prov.released.Load())
}

func TestRunTimeout(t *testing.T) {
	prov := newFakeProvider("slow")
	prov.newExec = func() *fakeExecutor { return &fakeExecutor{delay: 200 * time.Millisecond} }

	runner := Runner{Providers: map[string]Provider{"slow": prov}, Units: units}
	report := runner.Run(context.Background(), []Configuration{
		{Label: "slow", Backend: "slow", Timeout: 20 * time.Millisecond, Write: WriteConfig{Units: 5, BatchSize: 5}},
	})

	require.Len(t, report.Results, 1)
	assert.ErrorIs(t, report.Results[0].Err, ErrTimedOut)
	assert.Equal(t, "Timeout", report.Results[0].ErrorKind())

	assert.Eventually(t, func() bool { return prov.released.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestRunContinueOnError(t *testing.T) {
	prov := newFakeProvider("pg")
	prov.newExec = func() *fakeExecutor { return &fakeExecutor{rejects: map[int]bool{3: true, 7: true}} }

	runner := Runner{Providers: map[string]Provider{"pg": prov}, Units: units}
	report := runner.Run(context.Background(), []Configuration{
		{Label: "skip", Backend: "pg", Write: WriteConfig{Units: 10, BatchSize: 4, ContinueOnError: true}},
		{Label: "stop", Backend: "pg", Write: WriteConfig{Units: 10, BatchSize: 4}},
	})

	skip := report.Results[0]
	require.NoError(t, skip.Err)
	assert.Equal(t, 8, skip.Write.Submitted)
	assert.Equal(t, 8, skip.Write.Sent)
	assert.Equal(t, 2, skip.Write.Flushes)

	stop := report.Results[1]
	var execErr *batch.ExecutionError
	require.ErrorAs(t, stop.Err, &execErr)
	assert.Equal(t, 3, execErr.Index)
	assert.Equal(t, "ExecutionError", stop.ErrorKind())
	// The three units queued before the rejection are still flushed at end.
	assert.Equal(t, 3, stop.Write.Sent)
}

func TestRunRejectsBeforeAcquiring(t *testing.T) {
	prov := newFakeProvider("lite")
	prov.caps.Cursors = cursor.Modes{{Scrollability: cursor.ForwardOnly}}
	prov.caps.Isolation = []Isolation{Serializable}

	runner := Runner{Providers: map[string]Provider{"lite": prov}, Units: units}
	report := runner.Run(context.Background(), []Configuration{
		{Label: "iso", Backend: "lite", Isolation: RepeatableRead},
		{Label: "snap", Backend: "lite", Isolation: Snapshot},
		{Label: "rewrite", Backend: "lite", Write: WriteConfig{Strategy: StrategyRewrite, Units: 1}},
		{Label: "missing", Backend: "oracle"},
		{Label: "serial", Backend: "lite", Isolation: Serializable, Write: WriteConfig{Units: 3}},
	})

	assert.Equal(t, "UnsupportedIsolationError", report.Results[0].ErrorKind())
	assert.Equal(t, "UnsupportedIsolationError", report.Results[1].ErrorKind())
	assert.ErrorIs(t, report.Results[2].Err, ErrUnsupportedStrategy)
	assert.ErrorIs(t, report.Results[3].Err, ErrUnknownBackend)
	require.NoError(t, report.Results[4].Err)

	assert.Equal(t, 1, prov.acquired)
	assert.Equal(t, []Isolation{Serializable}, prov.isolation)
}

func TestRunRandomAccessOnForwardOnly(t *testing.T) {
	prov := newFakeProvider("pg")
	rec := metrics.NewRecorder()

	runner := Runner{Providers: map[string]Provider{"pg": prov}, Recorder: rec}
	report := runner.Run(context.Background(), []Configuration{{
		Label:   "fo-random",
		Backend: "pg",
		Kind:    KindRead,
		Read:    ReadConfig{Mode: ReadRandom, Rows: 3, Cursor: cursor.Config{Scrollability: cursor.ForwardOnly}},
	}})

	res := report.Results[0]
	assert.Equal(t, "UnsupportedCursorError", res.ErrorKind())
	assert.Zero(t, res.Read.Rows)
	assert.Empty(t, rec.Snapshot())
}

func TestRunTrialsReportsMedian(t *testing.T) {
	prov := newFakeProvider("pg")

	runner := Runner{Providers: map[string]Provider{"pg": prov}, Units: units}
	report := runner.Run(context.Background(), []Configuration{
		{Label: "repeat", Backend: "pg", Trials: 3, Warmup: 2, Write: WriteConfig{Units: 20, BatchSize: 5}},
	})

	res := report.Results[0]
	require.NoError(t, res.Err)
	assert.Len(t, res.Trials, 3)
	assert.Equal(t, MedianDuration(res.Trials), res.Elapsed)
	assert.Equal(t, 20, res.Write.Sent)
	assert.Equal(t, 5, prov.acquired)
	// Warmup samples go to a throwaway recorder.
	assert.Equal(t, 12, runner.Recorder.Count("repeat.flush"))
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer

	PrintReport(&buf, Report{
		RunID:   "0192a3b4-0000-7000-8000-000000000000",
		Started: time.Now(),
		Results: []RunResult{
			{Label: "pg/write/batched/batch=50", Kind: KindWrite, Elapsed: 20 * time.Millisecond, Write: batch.Stats{Sent: 5000}, Steady: true},
			{Label: "mysql/write/direct/batch=50", Kind: KindWrite, Err: &AcquisitionError{Backend: "mysql", Err: errors.New("refused")}},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "pg/write/batched/batch=50")
	assert.Contains(t, out, "250000")
	assert.Contains(t, out, "AcquisitionError")
	assert.Contains(t, out, "refused")

	var widths []int
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "║ pg/") || strings.HasPrefix(line, "║ mysql/") {
			widths = append(widths, utf8.RuneCountInString(line))
		}
	}
	require.Len(t, widths, 2)
	assert.Equal(t, widths[0], widths[1], "failed row must span the data columns")
}

func TestRunAcquireTimesEachRoundTrip(t *testing.T) {
	prov := newFakeProvider("pg")
	rec := metrics.NewRecorder()

	runner := Runner{Providers: map[string]Provider{"pg": prov}, Recorder: rec}
	report := runner.Run(context.Background(), []Configuration{{
		Backend:   "pg",
		Kind:      KindAcquire,
		Acquire:   AcquireConfig{Calls: 25},
		Isolation: Serializable,
	}})

	res := report.Results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, "pg/acquire/calls=25", res.Label)
	assert.Equal(t, 25, res.Calls)
	assert.Equal(t, 25, prov.acquired)
	assert.EqualValues(t, 25, prov.released.Load())
	assert.Len(t, prov.isolation, 25)
	assert.Equal(t, 25, rec.Count("pg/acquire/calls=25.acquire"))
}

func TestRunAcquireFailure(t *testing.T) {
	prov := newFakeProvider("pg")
	prov.acquireErr = errors.New("too many clients")

	runner := Runner{Providers: map[string]Provider{"pg": prov}}
	report := runner.Run(context.Background(), []Configuration{{Label: "pool", Backend: "pg", Kind: KindAcquire}})

	res := report.Results[0]
	assert.Equal(t, "AcquisitionError", res.ErrorKind())
	assert.Zero(t, res.Calls)
}

func TestRunCallStopsAtCallCount(t *testing.T) {
	prov := newFakeProvider("pg")
	rec := metrics.NewRecorder()

	runner := Runner{Providers: map[string]Provider{"pg": prov}, Recorder: rec}
	report := runner.Run(context.Background(), []Configuration{{
		Backend: "pg",
		Kind:    KindCall,
		Call:    CallConfig{Query: "SELECT 1", Calls: 40},
	}})

	res := report.Results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, "pg/call/calls=40", res.Label)
	assert.Equal(t, 40, res.Calls)
	assert.Equal(t, 40, rec.Count(res.Label+".call"))
	assert.Equal(t, 1, prov.acquired)
	assert.EqualValues(t, 1, prov.released.Load())
}

func TestRunCallStopsAtDuration(t *testing.T) {
	prov := newFakeProvider("pg")
	rec := metrics.NewRecorder()

	runner := Runner{Providers: map[string]Provider{"pg": prov}, Recorder: rec}
	report := runner.Run(context.Background(), []Configuration{{
		Backend: "pg",
		Kind:    KindCall,
		Call:    CallConfig{Query: "SELECT 1", Duration: 20 * time.Millisecond},
	}})

	res := report.Results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, "pg/call/for=20ms", res.Label)
	assert.Positive(t, res.Calls)
	assert.Equal(t, res.Calls, rec.Count(res.Label+".call"))
	assert.GreaterOrEqual(t, res.Elapsed, 20*time.Millisecond)
}

func TestRunCallOnEmptyResult(t *testing.T) {
	prov := newFakeProvider("pg")
	prov.rows = nil

	runner := Runner{Providers: map[string]Provider{"pg": prov}}
	report := runner.Run(context.Background(), []Configuration{{Label: "empty", Backend: "pg", Kind: KindCall}})

	res := report.Results[0]
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, cursor.ErrNoRows)
	assert.Zero(t, res.Calls)
}
