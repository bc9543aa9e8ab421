package workload

import (
	"context"
	"fmt"
	"time"

	"batchbench/batch"

	slogctx "github.com/veqryn/slog-context"
)

// SeedBatchSize is the flush threshold used while loading seed rows.
const SeedBatchSize = 100

// Execer runs a statement that returns no rows.
type Execer interface {
	Exec(ctx context.Context, stmt string) error
}

// Session is what seeding needs from a backend connection.
type Session interface {
	Execer
	Loader(ctx context.Context, statement string) (batch.Executor, error)
}

type SeedConfig struct {
	Posts           int `yaml:"posts"`
	CommentsPerPost int `yaml:"commentsPerPost"`
}

func (conf SeedConfig) WithDefaults() SeedConfig {
	if conf.Posts == 0 {
		conf.Posts = 5000
	}
	if conf.CommentsPerPost == 0 {
		conf.CommentsPerPost = 5
	}
	return conf
}

// CreateSchema drops and recreates the tables.
func CreateSchema(ctx context.Context, e Execer, d Dialect) error {
	for _, stmt := range d.Schema() {
		if err := e.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

// Seed recreates the schema and loads posts, their details and their
// comments through the batch accumulator.
func Seed(ctx context.Context, sess Session, d Dialect, conf SeedConfig) error {
	var (
		logger = slogctx.FromCtx(ctx)
		start  = time.Now()
	)

	conf = conf.WithDefaults()

	if err := CreateSchema(ctx, sess, d); err != nil {
		return err
	}

	steps := []struct {
		table     string
		statement string
		count     int
		units     func(int) batch.Unit
	}{
		{"post", d.InsertPost(), conf.Posts, Post},
		{"post_details", d.InsertPostDetails(), conf.Posts, PostDetails(start.UTC().Truncate(time.Millisecond))},
		{"post_comment", d.InsertPostComment(), conf.Posts * conf.CommentsPerPost, PostComments(conf.CommentsPerPost)},
	}

	for _, step := range steps {
		exec, err := sess.Loader(ctx, step.statement)
		if err != nil {
			return fmt.Errorf("seed %s: %w", step.table, err)
		}

		stats, err := batch.Run(ctx, exec, batch.Options{BatchSize: SeedBatchSize}, func(acc *batch.Accumulator) error {
			for i := 0; i < step.count; i++ {
				if err := acc.Submit(ctx, step.units(i)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("seed %s: %w", step.table, err)
		}

		logger.Debug("seeded table", "table", step.table, "rows", stats.Sent, "flushes", stats.Flushes)
	}

	logger.Info("seed finished", "posts", conf.Posts, "comments", conf.Posts*conf.CommentsPerPost, "duration", time.Since(start))
	return nil
}
