package bench

import (
	"context"
	"errors"
	"fmt"
	"time"

	"batchbench/batch"
	"batchbench/cursor"
	"batchbench/metrics"

	"github.com/agnosticeng/panicsafe"
	"github.com/google/uuid"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"
)

var errNoUnits = errors.New("write configuration needs a unit generator")

// Runner executes a matrix of configurations. Trials never share state: each
// one acquires its own session and builds its own accumulator or reader.
type Runner struct {
	Providers map[string]Provider
	Recorder  *metrics.Recorder
	// Units produces the i-th work unit of a write trial.
	Units       func(i int) batch.Unit
	Parallelism int
}

type trialOutcome struct {
	elapsed time.Duration
	write   batch.Stats
	read    cursor.Result
	calls   int
	err     error
}

// Run executes every configuration and returns one result per configuration,
// in input order. Failures are recorded in the results and never stop the
// matrix.
func (r *Runner) Run(ctx context.Context, confs []Configuration) Report {
	var (
		logger = slogctx.FromCtx(ctx)
		report = Report{
			RunID:   newRunID(),
			Started: time.Now(),
			Results: make([]RunResult, len(confs)),
		}
		group errgroup.Group
	)

	if r.Recorder == nil {
		r.Recorder = metrics.NewRecorder()
	}
	group.SetLimit(max(r.Parallelism, 1))

	logger.Info("starting run", "run_id", report.RunID, "configurations", len(confs), "parallelism", max(r.Parallelism, 1))

	for i, conf := range confs {
		group.Go(func() error {
			report.Results[i] = r.runConfiguration(ctx, conf.WithDefaults())
			return nil
		})
	}

	_ = group.Wait()
	report.Elapsed = time.Since(report.Started)

	logger.Info("run finished", "run_id", report.RunID, "failed", report.Failed(), "duration", report.Elapsed)
	return report
}

func (r *Runner) runConfiguration(ctx context.Context, conf Configuration) RunResult {
	ctx = slogctx.With(ctx, "label", conf.Label, "backend", conf.Backend, "kind", string(conf.Kind))

	var (
		logger = slogctx.FromCtx(ctx)
		res    = RunResult{Label: conf.Label, Backend: conf.Backend, Kind: conf.Kind}
		outs   []trialOutcome
	)

	for i := 0; i < conf.Warmup; i++ {
		out := r.guarded(ctx, conf, metrics.NewRecorder())
		if out.err != nil {
			res.Err = fmt.Errorf("warmup %d: %w", i+1, out.err)
			logger.Error("trial failed", "error", res.Err)
			return res
		}
	}

	for i := 0; i < conf.Trials; i++ {
		out := r.guarded(ctx, conf, r.Recorder)
		if out.err != nil {
			res.Err = out.err
			if conf.Trials > 1 {
				res.Err = fmt.Errorf("trial %d: %w", i+1, out.err)
			}
			res.Write, res.Read, res.Calls, res.Elapsed = out.write, out.read, out.calls, out.elapsed
			logger.Error("trial failed", "error", res.Err)
			return res
		}
		outs = append(outs, out)
		res.Trials = append(res.Trials, out.elapsed)
	}

	res.Elapsed = MedianDuration(res.Trials)
	res.Steady, _ = SteadyState(res.Trials, SteadyTolerance)

	for _, out := range outs {
		if out.elapsed == res.Elapsed {
			res.Write, res.Read, res.Calls = out.write, out.read, out.calls
			break
		}
	}

	logger.Info("configuration finished",
		"trials", len(res.Trials),
		"duration", res.Elapsed,
		"steady", res.Steady,
		"sent", res.Write.Sent,
		"rows", res.Read.Rows,
		"calls", res.Calls,
	)
	return res
}

// guarded runs one trial under the configuration's wall-clock ceiling. A trial
// that overruns is abandoned rather than interrupted; it still releases its
// session when it eventually returns.
func (r *Runner) guarded(ctx context.Context, conf Configuration, rec *metrics.Recorder) trialOutcome {
	if conf.Timeout <= 0 {
		return r.trial(ctx, conf, rec)
	}

	done := make(chan trialOutcome, 1)
	go func() { done <- r.trial(ctx, conf, rec) }()

	timer := time.NewTimer(conf.Timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out
	case <-timer.C:
		return trialOutcome{elapsed: conf.Timeout, err: fmt.Errorf("%w after %s", ErrTimedOut, conf.Timeout)}
	case <-ctx.Done():
		return trialOutcome{err: ctx.Err()}
	}
}

func (r *Runner) trial(ctx context.Context, conf Configuration, rec *metrics.Recorder) (out trialOutcome) {
	out.err = panicsafe.Recover(func() error {
		var err error
		out, err = r.runTrial(ctx, conf, rec)
		return err
	})
	return out
}

func (r *Runner) runTrial(ctx context.Context, conf Configuration, rec *metrics.Recorder) (trialOutcome, error) {
	var out trialOutcome

	prov, ok := r.Providers[conf.Backend]
	if !ok {
		return out, fmt.Errorf("%w %q", ErrUnknownBackend, conf.Backend)
	}

	caps := prov.Capabilities()
	if !caps.SupportsIsolation(conf.Isolation) {
		return out, &UnsupportedIsolationError{Backend: prov.Name(), Level: conf.Isolation}
	}
	if conf.Kind == KindWrite && !caps.SupportsStrategy(conf.Write.Strategy) {
		return out, fmt.Errorf("%w %q on %s", ErrUnsupportedStrategy, conf.Write.Strategy, prov.Name())
	}

	if conf.Kind == KindAcquire {
		start := time.Now()
		calls, err := acquire(ctx, prov, conf, rec)
		out.calls, out.elapsed = calls, time.Since(start)
		return out, err
	}

	sess, release, err := prov.Acquire(ctx)
	if err != nil {
		return out, &AcquisitionError{Backend: prov.Name(), Err: err}
	}
	defer release()

	if conf.Isolation != IsolationDefault {
		if err := sess.SetIsolation(ctx, conf.Isolation); err != nil {
			return out, fmt.Errorf("set isolation %s: %w", conf.Isolation, err)
		}
	}

	start := time.Now()

	switch conf.Kind {
	case KindWrite:
		out.write, err = r.write(ctx, sess, conf, rec)
	case KindRead:
		out.read, err = read(ctx, sess, conf, rec)
	case KindCall:
		out.calls, err = call(ctx, sess, conf, rec)
	default:
		err = fmt.Errorf("unknown kind %q", string(conf.Kind))
	}

	out.elapsed = time.Since(start)
	return out, err
}

func (r *Runner) write(ctx context.Context, sess Session, conf Configuration, rec *metrics.Recorder) (batch.Stats, error) {
	if r.Units == nil {
		return batch.Stats{}, errNoUnits
	}

	exec, err := sess.Executor(ctx, conf.Write)
	if err != nil {
		return batch.Stats{}, fmt.Errorf("create executor: %w", err)
	}

	opts := batch.Options{
		BatchSize: conf.Write.BatchSize,
		Recorder:  rec,
		Timer:     conf.Label + ".flush",
	}

	return batch.Run(ctx, exec, opts, func(acc *batch.Accumulator) error {
		var logger = slogctx.FromCtx(ctx)

		for i := 0; i < conf.Write.Units; i++ {
			err := acc.Submit(ctx, r.Units(i))
			if err == nil {
				continue
			}

			var execErr *batch.ExecutionError
			if conf.Write.ContinueOnError && errors.As(err, &execErr) {
				logger.Warn("unit rejected", "index", execErr.Index, "error", execErr.Err)
				continue
			}
			return err
		}
		return nil
	})
}

func read(ctx context.Context, sess Session, conf Configuration, rec *metrics.Recorder) (cursor.Result, error) {
	reader := cursor.NewReader(sess.Cursors(), cursor.Options{Recorder: rec, Timer: conf.Label})

	if conf.Read.Mode == ReadRandom {
		return reader.OpenAndRandomAccess(ctx, conf.Read.Query, conf.Read.Cursor, conf.Read.Positions)
	}
	return reader.OpenAndDrain(ctx, conf.Read.Query, conf.Read.Cursor)
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
