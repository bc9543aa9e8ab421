package cursor

import (
	"context"
	"fmt"
	"time"

	"batchbench/metrics"

	"github.com/hashicorp/go-multierror"
	slogctx "github.com/veqryn/slog-context"
)

const DefaultTimer = "cursor"

type Options struct {
	Recorder *metrics.Recorder
	// Timer prefixes the recorded samples: <Timer>.open, <Timer>.drain and
	// <Timer>.random.
	Timer string
}

func (opts Options) WithDefaults() Options {
	if len(opts.Timer) == 0 {
		opts.Timer = DefaultTimer
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NewRecorder()
	}
	return opts
}

type Result struct {
	Rows    int
	Open    time.Duration
	Elapsed time.Duration
}

// Reader drives one cursor at a time over a Source. Each trial owns its own
// Reader.
type Reader struct {
	src  Source
	opts Options
}

func NewReader(src Source, opts Options) *Reader {
	return &Reader{src: src, opts: opts.WithDefaults()}
}

// OpenAndDrain opens query under cfg and reads every column of every row from
// first to last.
func (r *Reader) OpenAndDrain(ctx context.Context, query string, cfg Config, args ...any) (res Result, err error) {
	if err := r.check(cfg, false); err != nil {
		return Result{}, err
	}

	start := time.Now()
	cur, err := r.src.Open(ctx, query, cfg, args...)
	if err != nil {
		return Result{}, fmt.Errorf("open cursor: %w", err)
	}
	defer func() { err = closeCursor(ctx, cur, err) }()
	res.Open = time.Since(start)

	for cur.Next(ctx) {
		if _, err := cur.Values(); err != nil {
			return res, fmt.Errorf("read row %d: %w", res.Rows+1, err)
		}
		res.Rows++
	}
	if err := cur.Err(); err != nil {
		return res, fmt.Errorf("iterate cursor: %w", err)
	}
	res.Elapsed = time.Since(start)

	r.opts.Recorder.Record(r.opts.Timer+".open", res.Open)
	r.opts.Recorder.Record(r.opts.Timer+".drain", res.Elapsed)

	slogctx.FromCtx(ctx).Debug("cursor drained",
		"mode", cfg.Mode().String(),
		"fetch_size", cfg.FetchSize,
		"rows", res.Rows,
		"duration", res.Elapsed,
	)
	return res, nil
}

// OpenAndRandomAccess jumps to each 1-based position in the order given and
// reads every column there. Forward-only configurations are rejected before
// anything is opened.
func (r *Reader) OpenAndRandomAccess(ctx context.Context, query string, cfg Config, positions []int, args ...any) (res Result, err error) {
	if err := r.check(cfg, true); err != nil {
		return Result{}, err
	}
	for _, pos := range positions {
		if pos < 1 {
			return Result{}, fmt.Errorf("%w: %d", ErrPositionOutOfRange, pos)
		}
	}

	start := time.Now()
	cur, err := r.src.Open(ctx, query, cfg, args...)
	if err != nil {
		return Result{}, fmt.Errorf("open cursor: %w", err)
	}
	defer func() { err = closeCursor(ctx, cur, err) }()
	res.Open = time.Since(start)

	for _, pos := range positions {
		ok, err := cur.Absolute(ctx, pos)
		if err != nil {
			return res, fmt.Errorf("move to row %d: %w", pos, err)
		}
		if !ok {
			return res, fmt.Errorf("%w: %d", ErrPositionOutOfRange, pos)
		}
		if _, err := cur.Values(); err != nil {
			return res, fmt.Errorf("read row %d: %w", pos, err)
		}
		res.Rows++
	}
	res.Elapsed = time.Since(start)

	r.opts.Recorder.Record(r.opts.Timer+".open", res.Open)
	r.opts.Recorder.Record(r.opts.Timer+".random", res.Elapsed)

	slogctx.FromCtx(ctx).Debug("cursor random access",
		"mode", cfg.Mode().String(),
		"positions", len(positions),
		"duration", res.Elapsed,
	)
	return res, nil
}

func (r *Reader) check(cfg Config, random bool) error {
	if cfg.FetchSize < 0 {
		return ErrInvalidFetchSize
	}
	if random && !cfg.Scrollable() {
		return &UnsupportedCursorError{Mode: cfg.Mode(), Reason: "random access needs a scrollable cursor"}
	}
	if !r.src.SupportsCursor(cfg.Mode()) {
		return &UnsupportedCursorError{Mode: cfg.Mode(), Reason: "not supported by backend"}
	}
	return nil
}

func closeCursor(ctx context.Context, cur Cursor, err error) error {
	closeErr := cur.Close(ctx)
	if closeErr == nil {
		return err
	}
	if err == nil {
		return fmt.Errorf("close cursor: %w", closeErr)
	}
	return multierror.Append(err, closeErr)
}
