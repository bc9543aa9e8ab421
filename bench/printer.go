package bench

import (
	"context"
	"fmt"
	"io"
	"time"

	"batchbench/cursor"
	"batchbench/metrics"
)

func PrintSnapshot(w io.Writer, s metrics.Snapshot) {
	fmt.Fprintf(w, "\n┌─────────────────────────────────────────┐\n")
	fmt.Fprintf(w, "│  %-39s│\n", s.Name)
	fmt.Fprintf(w, "├─────────────────────────────────────────┤\n")
	fmt.Fprintf(w, "│  Samples:      %-24d│\n", s.Count)
	fmt.Fprintf(w, "│  Total:        %-24s│\n", FmtDur(s.Sum))
	fmt.Fprintf(w, "├─────────────────────────────────────────┤\n")
	fmt.Fprintf(w, "│  Latency avg:  %-24s│\n", FmtDur(s.Mean))
	fmt.Fprintf(w, "│  Latency min:  %-24s│\n", FmtDur(s.Min))
	fmt.Fprintf(w, "│  Latency max:  %-24s│\n", FmtDur(s.Max))
	fmt.Fprintf(w, "│  Latency p50:  %-24s│\n", FmtDur(s.P50))
	fmt.Fprintf(w, "│  Latency p75:  %-24s│\n", FmtDur(s.P75))
	fmt.Fprintf(w, "│  Latency p90:  %-24s│\n", FmtDur(s.P90))
	fmt.Fprintf(w, "│  Latency p95:  %-24s│\n", FmtDur(s.P95))
	fmt.Fprintf(w, "│  Latency p99:  %-24s│\n", FmtDur(s.P99))
	fmt.Fprintf(w, "└─────────────────────────────────────────┘\n")
}

// TableSink renders reporter snapshots as boxes.
type TableSink struct {
	W io.Writer
}

func (s TableSink) Report(_ context.Context, snapshots []metrics.Snapshot) {
	for _, snap := range snapshots {
		PrintSnapshot(s.W, snap)
	}
}

func PrintReport(w io.Writer, r Report) {
	fmt.Fprintf(w, "\n╔═══════════════════════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║  RUN %-36s  %3d configurations, %3d failed ║\n", r.RunID, len(r.Results), r.Failed())
	fmt.Fprintf(w, "╠══════════════════════════════════════╦══════════╦══════════╦═════════╦════════╣\n")
	fmt.Fprintf(w, "║ Configuration                        ║ Elapsed  ║ Units    ║ Per sec ║ Steady ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╬══════════╬══════════╬═════════╬════════╣\n")

	for _, res := range r.Results {
		label := res.Label
		if len(label) > 36 {
			label = label[:35] + "…"
		}
		if !res.OK() {
			fmt.Fprintf(w, "║ %-36s ║ %-38s ║\n", label, "✗ "+res.ErrorKind())
			continue
		}

		var n int
		switch res.Kind {
		case KindRead:
			n = res.Read.Rows
		case KindAcquire, KindCall:
			n = res.Calls
		default:
			n = res.Write.Sent
		}
		steady := "✅"
		if !res.Steady {
			steady = "⚠️ "
		}
		fmt.Fprintf(w, "║ %-36s ║ %8s ║ %8d ║ %7.0f ║ %-5s  ║\n",
			label, FmtDur(res.Elapsed), n, Throughput(n, res.Elapsed), steady)
	}

	fmt.Fprintf(w, "╚══════════════════════════════════════╩══════════╩══════════╩═════════╩════════╝\n")
	fmt.Fprintf(w, "  Started %s, took %s\n", r.Started.Format(time.RFC3339), r.Elapsed.Round(time.Millisecond))

	for _, res := range r.Results {
		if !res.OK() {
			fmt.Fprintf(w, "  %s: %v\n", res.Label, res.Err)
		}
	}
}

// PrintComparison sets a candidate configuration against a baseline.
func PrintComparison(w io.Writer, baseline, candidate RunResult) {
	if !baseline.OK() || !candidate.OK() || baseline.Elapsed == 0 {
		fmt.Fprintf(w, "\n  cannot compare %s with %s\n", baseline.Label, candidate.Label)
		return
	}

	delta := candidate.Elapsed - baseline.Elapsed
	deltaPct := float64(delta) / float64(baseline.Elapsed) * 100

	fmt.Fprintf(w, "\n╔═════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║  COMPARISON                                                 ║\n")
	fmt.Fprintf(w, "╠═══════════════════╦════════════════╦════════════════════════╣\n")
	fmt.Fprintf(w, "║  Metric           ║  Baseline      ║  Candidate             ║\n")
	fmt.Fprintf(w, "╠═══════════════════╬════════════════╬════════════════════════╣\n")
	fmt.Fprintf(w, "║  Elapsed          ║  %-13s ║  %-21s ║\n", FmtDur(baseline.Elapsed), FmtDur(candidate.Elapsed))
	fmt.Fprintf(w, "║  Units sent       ║  %-13d ║  %-21d ║\n", baseline.Write.Sent, candidate.Write.Sent)
	fmt.Fprintf(w, "║  Flushes          ║  %-13d ║  %-21d ║\n", baseline.Write.Flushes, candidate.Write.Flushes)
	fmt.Fprintf(w, "║  Rows read        ║  %-13d ║  %-21d ║\n", baseline.Read.Rows, candidate.Read.Rows)
	fmt.Fprintf(w, "╠═══════════════════╩════════════════╩════════════════════════╣\n")
	fmt.Fprintf(w, "║  Elapsed delta:   %-41s ║\n", fmt.Sprintf("%s (%+.1f%%)", FmtDur(delta), deltaPct))
	fmt.Fprintf(w, "╚═════════════════════════════════════════════════════════════╝\n")
}

// PrintCapabilities lists what a backend advertises, one cursor mode per
// line.
func PrintCapabilities(w io.Writer, backend string, c Capabilities) {
	yes := func(ok bool) string {
		if ok {
			return "yes"
		}
		return "no"
	}

	fmt.Fprintf(w, "\n┌─────────────────────────────────────────┐\n")
	fmt.Fprintf(w, "│  %-39s│\n", backend)
	fmt.Fprintf(w, "├─────────────────────────────────────────┤\n")
	fmt.Fprintf(w, "│  Implicit stmt cache:  %-16s│\n", yes(c.ImplicitStatementCache))
	fmt.Fprintf(w, "│  Snapshot isolation:   %-16s│\n", yes(c.SnapshotIsolation))
	for _, l := range c.Isolation {
		fmt.Fprintf(w, "│  Isolation:            %-16s│\n", l)
	}
	for _, s := range c.Strategies {
		fmt.Fprintf(w, "│  Write strategy:       %-16s│\n", s)
	}
	fmt.Fprintf(w, "├─────────────────────────────────────────┤\n")
	for _, m := range cursor.AllModes() {
		fmt.Fprintf(w, "│  %-33s %-4s│\n", m, yes(c.Cursors.SupportsCursor(m)))
	}
	fmt.Fprintf(w, "└─────────────────────────────────────────┘\n")
}

func FmtDur(d time.Duration) string {
	us := float64(d.Microseconds())
	if us < 0 {
		return "-" + FmtDur(-d)
	}
	if us < 1000 {
		return fmt.Sprintf("%.0fµs", us)
	}
	return fmt.Sprintf("%.2fms", us/1000)
}
