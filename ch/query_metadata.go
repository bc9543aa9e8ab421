package ch

import (
	"context"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// QueryMetadata accumulates the progress packets the server streams back
// while a query runs.
type QueryMetadata struct {
	Rows       uint64
	Bytes      uint64
	TotalRows  uint64
	WroteRows  uint64
	WroteBytes uint64
	Elapsed    time.Duration
}

func (md *QueryMetadata) progressHandler(p *clickhouse.Progress) {
	if p == nil {
		return
	}

	md.Rows += p.Rows
	md.Bytes += p.Bytes
	md.TotalRows += p.TotalRows
	md.WroteRows += p.WroteRows
	md.WroteBytes += p.WroteBytes
	md.Elapsed += p.Elapsed
}

// WithProgress returns a context that feeds md with the query's progress.
func (md *QueryMetadata) WithProgress(ctx context.Context) context.Context {
	return clickhouse.Context(ctx, clickhouse.WithProgress(md.progressHandler))
}

func LogQueryMetadata(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, md *QueryMetadata) {
	if logger.Enabled(ctx, level) {
		logger.Log(
			ctx,
			level,
			msg,
			"rows", md.Rows,
			"bytes", md.Bytes,
			"total_rows", md.TotalRows,
			"wrote_rows", md.WroteRows,
			"wrote_bytes", md.WroteBytes,
			"elapsed", md.Elapsed,
		)
	}
}
