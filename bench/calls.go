package bench

import (
	"context"
	"fmt"
	"time"

	"batchbench/cursor"
	"batchbench/metrics"
)

// acquire times Calls acquire/release round trips into <label>.acquire,
// applying the configured isolation on every session.
func acquire(ctx context.Context, prov Provider, conf Configuration, rec *metrics.Recorder) (int, error) {
	timer := rec.Timer(conf.Label + ".acquire")

	for i := 0; i < conf.Acquire.Calls; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}

		start := time.Now()
		sess, release, err := prov.Acquire(ctx)
		if err != nil {
			return i, &AcquisitionError{Backend: prov.Name(), Err: err}
		}
		if conf.Isolation != IsolationDefault {
			if err := sess.SetIsolation(ctx, conf.Isolation); err != nil {
				release()
				return i, fmt.Errorf("set isolation %s: %w", conf.Isolation, err)
			}
		}
		release()
		timer.Update(time.Since(start))
	}
	return conf.Acquire.Calls, nil
}

// call runs the scalar query into <label>.call until either bound is hit.
func call(ctx context.Context, sess Session, conf Configuration, rec *metrics.Recorder) (int, error) {
	var (
		timer    = rec.Timer(conf.Label + ".call")
		deadline time.Time
		n        int
	)

	if conf.Call.Duration > 0 {
		deadline = time.Now().Add(conf.Call.Duration)
	}

	for conf.Call.Calls <= 0 || n < conf.Call.Calls {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			break
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}

		start := time.Now()
		if _, err := cursor.Scalar(ctx, sess.Cursors(), conf.Call.Query); err != nil {
			return n, fmt.Errorf("call %d: %w", n+1, err)
		}
		timer.Update(time.Since(start))
		n++
	}
	return n, nil
}
