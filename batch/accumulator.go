package batch

import (
	"context"
	"errors"
	"time"

	"batchbench/metrics"

	"github.com/hashicorp/go-multierror"
	slogctx "github.com/veqryn/slog-context"
)

const DefaultFlushTimer = "batch.flush"

type Options struct {
	BatchSize int
	Recorder  *metrics.Recorder
	Timer     string
}

func (opts Options) WithDefaults() Options {
	if len(opts.Timer) == 0 {
		opts.Timer = DefaultFlushTimer
	}
	return opts
}

type Stats struct {
	Submitted int
	Sent      int
	Flushes   int
	Lost      int
	Rows      int64
}

// Accumulator counts submitted units and flushes the wrapped executor every
// BatchSize submissions. It is not safe for concurrent use; each trial owns
// its own accumulator.
type Accumulator struct {
	exec  Executor
	size  int
	timer *metrics.Timer

	submitted int
	pending   int
	sent      int
	flushes   int
	lost      int
	rows      int64

	failed error
	ended  bool
}

func New(exec Executor, opts Options) (*Accumulator, error) {
	opts = opts.WithDefaults()

	if opts.BatchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}

	acc := &Accumulator{exec: exec, size: opts.BatchSize}
	if opts.Recorder != nil {
		acc.timer = opts.Recorder.Timer(opts.Timer)
	}
	return acc, nil
}

// Submit queues u and flushes when the submitted count reaches a multiple of
// the batch size. A rejected unit is not counted.
func (a *Accumulator) Submit(ctx context.Context, u Unit) error {
	if a.ended {
		return ErrEnded
	}
	if a.failed != nil {
		return a.failed
	}

	if err := a.exec.Accumulate(ctx, u); err != nil {
		return &ExecutionError{Index: a.submitted, Err: err}
	}

	a.submitted++
	a.pending++

	if a.submitted%a.size == 0 {
		return a.Flush(ctx)
	}
	return nil
}

// Flush sends every pending unit. It is a no-op, recording nothing, when no
// unit is pending.
func (a *Accumulator) Flush(ctx context.Context) error {
	if a.failed != nil {
		return a.failed
	}
	if a.pending == 0 {
		return nil
	}

	logger := slogctx.FromCtx(ctx)
	start := time.Now()

	res, err := a.exec.SendBatch(ctx)
	if err != nil {
		a.failed = &FlushError{Lost: a.pending, Err: err}
		a.lost += a.pending
		a.pending = 0
		logger.Error("flush failed", "lost", a.lost, "error", err)
		return a.failed
	}

	elapsed := time.Since(start)
	if a.timer != nil {
		a.timer.Update(elapsed)
	}

	logger.Debug("flushed",
		"units", a.pending,
		"rows", res.Aggregate,
		"per_unit", res.PerUnit,
		"duration", elapsed,
	)

	a.sent += a.pending
	a.rows += res.Aggregate
	a.flushes++
	a.pending = 0
	return nil
}

// End performs the final unconditional flush. It must be called exactly
// once, after the last Submit.
func (a *Accumulator) End(ctx context.Context) error {
	if a.ended {
		return ErrEnded
	}
	a.ended = true
	return a.Flush(ctx)
}

func (a *Accumulator) Pending() int { return a.pending }

func (a *Accumulator) Stats() Stats {
	return Stats{
		Submitted: a.submitted,
		Sent:      a.sent,
		Flushes:   a.flushes,
		Lost:      a.lost,
		Rows:      a.rows,
	}
}

// Run scopes an accumulator to fn: End and exec.Close run on every exit path
// of fn, including an early return after an ExecutionError.
func Run(ctx context.Context, exec Executor, opts Options, fn func(acc *Accumulator) error) (stats Stats, err error) {
	acc, err := New(exec, opts)
	if err != nil {
		return Stats{}, flatten(multierror.Append(err, exec.Close(ctx)))
	}

	defer func() {
		var res *multierror.Error

		if err != nil {
			res = multierror.Append(res, err)
		}

		if endErr := acc.End(ctx); endErr != nil && !errors.Is(err, endErr) {
			res = multierror.Append(res, endErr)
		}

		if closeErr := exec.Close(ctx); closeErr != nil {
			res = multierror.Append(res, closeErr)
		}

		stats = acc.Stats()
		err = flatten(res)
	}()

	return Stats{}, fn(acc)
}

func flatten(res *multierror.Error) error {
	if res == nil {
		return nil
	}
	if len(res.Errors) == 1 {
		return res.Errors[0]
	}
	return res
}
