package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"batchbench/bench"
	"batchbench/cursor"
	"batchbench/metrics"
	"batchbench/workload"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	slogctx "github.com/veqryn/slog-context"
)

var runFlags = []cli.Flag{
	&cli.StringFlag{Name: "prom-addr", Usage: "serve Prometheus metrics on this address"},
	&cli.DurationFlag{Name: "report-interval", Usage: "log timer snapshots at this interval"},
	&cli.BoolFlag{Name: "seed", Usage: "recreate and load the post schema before running"},
}

var connFlags = []cli.Flag{
	&cli.StringFlag{Name: "backend", Value: "sqlite", Usage: "postgres, postgres-pq, mysql, sqlite or clickhouse"},
	&cli.StringFlag{Name: "dsn"},
	&cli.StringFlag{Name: "host", Value: "localhost"},
	&cli.IntFlag{Name: "port"},
	&cli.StringFlag{Name: "user"},
	&cli.StringFlag{Name: "password", EnvVars: []string{"BATCHBENCH_PASSWORD"}},
	&cli.StringFlag{Name: "database"},
	&cli.StringSliceFlag{Name: "opt", Usage: "driver option as key=value"},
}

var trialFlags = []cli.Flag{
	&cli.StringFlag{Name: "isolation"},
	&cli.DurationFlag{Name: "timeout"},
	&cli.IntFlag{Name: "trials", Value: 1},
	&cli.IntFlag{Name: "warmup"},
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	return lo.Flatten(groups)
}

func parseFlagOpts(opts []string) map[string]string {
	var m = make(map[string]string)

	for _, opt := range opts {
		var k, v, _ = strings.Cut(opt, "=")
		m[k] = v
	}

	return m
}

// singleBackend builds the one-backend matrix described by the connection
// flags. The backend is named after its type.
func singleBackend(ctx *cli.Context) map[string]BackendConfig {
	typ := ctx.String("backend")
	return map[string]BackendConfig{
		typ: {
			Type: typ,
			Conn: bench.ConnConfig{
				Host:     ctx.String("host"),
				Port:     ctx.Int("port"),
				User:     ctx.String("user"),
				Password: ctx.String("password"),
				Database: ctx.String("database"),
				DSN:      ctx.String("dsn"),
				Options:  parseFlagOpts(ctx.StringSlice("opt")),
			},
		},
	}
}

func trialConfiguration(ctx *cli.Context) (bench.Configuration, error) {
	var isolation bench.Isolation
	if err := isolation.UnmarshalText([]byte(ctx.String("isolation"))); err != nil {
		return bench.Configuration{}, err
	}
	return bench.Configuration{
		Backend:   ctx.String("backend"),
		Isolation: isolation,
		Timeout:   ctx.Duration("timeout"),
		Trials:    ctx.Int("trials"),
		Warmup:    ctx.Int("warmup"),
	}, nil
}

func matrixCommand() *cli.Command {
	return &cli.Command{
		Name:      "matrix",
		Usage:     "run every configuration of a YAML matrix file",
		ArgsUsage: "<file.yaml>",
		Flags: flags(runFlags, []cli.Flag{
			&cli.IntFlag{Name: "parallelism", Usage: "override the file's parallelism"},
			&cli.StringFlag{Name: "baseline", Usage: "compare every other configuration with this label"},
		}),
		Action: func(ctx *cli.Context) error {
			var path = ctx.Args().Get(0)

			if len(path) == 0 {
				return fmt.Errorf("a matrix file must be specified")
			}

			conf, err := LoadConfig(path)
			if err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}

			if p := ctx.Int("parallelism"); p > 0 {
				conf.Parallelism = p
			}
			if ctx.IsSet("report-interval") {
				conf.ReportInterval = ctx.Duration("report-interval")
			}

			return run(ctx, conf)
		},
	}
}

func writeCommand() *cli.Command {
	return &cli.Command{
		Name:  "write",
		Usage: "run one batched-write trial",
		Flags: flags(connFlags, trialFlags, runFlags, []cli.Flag{
			&cli.StringFlag{Name: "strategy", Value: string(bench.StrategyBatched), Usage: "direct, batched or rewrite"},
			&cli.IntFlag{Name: "batch-size", Value: 50},
			&cli.IntFlag{Name: "units", Value: DefaultUnits},
			&cli.StringFlag{Name: "statement"},
			&cli.BoolFlag{Name: "prepared"},
			&cli.BoolFlag{Name: "cache-statements"},
			&cli.BoolFlag{Name: "continue-on-error"},
		}),
		Action: func(ctx *cli.Context) error {
			c, err := trialConfiguration(ctx)
			if err != nil {
				return err
			}

			c.Kind = bench.KindWrite
			c.Write = bench.WriteConfig{
				Strategy:        bench.Strategy(ctx.String("strategy")),
				Statement:       ctx.String("statement"),
				Units:           ctx.Int("units"),
				BatchSize:       ctx.Int("batch-size"),
				Prepared:        ctx.Bool("prepared"),
				CacheStatements: ctx.Bool("cache-statements"),
				ContinueOnError: ctx.Bool("continue-on-error"),
			}

			return runSingle(ctx, c)
		},
	}
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:  "read",
		Usage: "run one cursored-read trial",
		Flags: flags(connFlags, trialFlags, runFlags, []cli.Flag{
			&cli.StringFlag{Name: "query"},
			&cli.StringFlag{Name: "scroll", Value: cursor.ForwardOnly.String(), Usage: "forward-only, scroll-insensitive or scroll-sensitive"},
			&cli.StringFlag{Name: "concurrency", Value: cursor.ReadOnly.String(), Usage: "read-only or updatable"},
			&cli.IntFlag{Name: "fetch-size"},
			&cli.BoolFlag{Name: "random", Usage: "jump to each row by absolute position instead of draining"},
			&cli.IntFlag{Name: "rows", Value: 100, Usage: "positions visited in random mode"},
		}),
		Action: func(ctx *cli.Context) error {
			c, err := trialConfiguration(ctx)
			if err != nil {
				return err
			}

			var cfg = cursor.Config{FetchSize: ctx.Int("fetch-size")}
			if err := cfg.Scrollability.UnmarshalText([]byte(ctx.String("scroll"))); err != nil {
				return err
			}
			if err := cfg.Concurrency.UnmarshalText([]byte(ctx.String("concurrency"))); err != nil {
				return err
			}

			c.Kind = bench.KindRead
			c.Read = bench.ReadConfig{
				Query:  ctx.String("query"),
				Mode:   lo.Ternary(ctx.Bool("random"), bench.ReadRandom, bench.ReadDrain),
				Cursor: cfg,
				Rows:   ctx.Int("rows"),
			}

			return runSingle(ctx, c)
		},
	}
}

func acquireCommand() *cli.Command {
	return &cli.Command{
		Name:  "acquire",
		Usage: "time session acquire/release round trips",
		Flags: flags(connFlags, trialFlags, runFlags, []cli.Flag{
			&cli.IntFlag{Name: "calls", Value: 100},
		}),
		Action: func(ctx *cli.Context) error {
			c, err := trialConfiguration(ctx)
			if err != nil {
				return err
			}

			c.Kind = bench.KindAcquire
			c.Acquire = bench.AcquireConfig{Calls: ctx.Int("calls")}

			return runSingle(ctx, c)
		},
	}
}

func callCommand() *cli.Command {
	return &cli.Command{
		Name:  "call",
		Usage: "time a scalar query called repeatedly",
		Flags: flags(connFlags, trialFlags, runFlags, []cli.Flag{
			&cli.StringFlag{Name: "query", Value: workload.SelectOne},
			&cli.IntFlag{Name: "calls", Usage: "stop after this many calls"},
			&cli.DurationFlag{Name: "duration", Usage: "stop after this long"},
		}),
		Action: func(ctx *cli.Context) error {
			c, err := trialConfiguration(ctx)
			if err != nil {
				return err
			}

			c.Kind = bench.KindCall
			c.Call = bench.CallConfig{
				Query:    ctx.String("query"),
				Calls:    ctx.Int("calls"),
				Duration: ctx.Duration("duration"),
			}

			return runSingle(ctx, c)
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "recreate the post schema and load it",
		Flags: flags(connFlags, []cli.Flag{
			&cli.IntFlag{Name: "posts", Value: 5000},
			&cli.IntFlag{Name: "comments-per-post", Value: 5},
		}),
		Action: func(ctx *cli.Context) error {
			var (
				backends = singleBackend(ctx)
				typ      = ctx.String("backend")
			)

			providers, err := OpenProviders(ctx.Context, backends)
			if err != nil {
				return err
			}
			defer providers.Close()

			return SeedBackend(ctx.Context, providers[typ], dialectOf(typ), workload.SeedConfig{
				Posts:           ctx.Int("posts"),
				CommentsPerPost: ctx.Int("comments-per-post"),
			})
		},
	}
}

func capabilitiesCommand() *cli.Command {
	return &cli.Command{
		Name:  "capabilities",
		Usage: "print the cursor, isolation and strategy support of a backend",
		Flags: connFlags,
		Action: func(ctx *cli.Context) error {
			providers, err := OpenProviders(ctx.Context, singleBackend(ctx))
			if err != nil {
				return err
			}
			defer providers.Close()

			p := providers[ctx.String("backend")]
			bench.PrintCapabilities(os.Stdout, p.Name(), p.Capabilities())
			return nil
		},
	}
}

func runSingle(ctx *cli.Context, c bench.Configuration) error {
	var (
		backends = singleBackend(ctx)
		conf     = MatrixConfig{
			Backends:       backends,
			ReportInterval: ctx.Duration("report-interval"),
			Configurations: []bench.Configuration{c},
		}
	)

	conf = conf.WithDefaults()
	if err := conf.Validate(); err != nil {
		return err
	}
	return run(ctx, conf)
}

var errFailedConfigurations = errors.New("some configurations failed")

func run(ctx *cli.Context, conf MatrixConfig) error {
	var (
		logger   = slogctx.FromCtx(ctx.Context)
		registry = prometheus.NewRegistry()
		recorder = metrics.NewRecorder(metrics.WithRegisterer(registry))
	)

	if addr := ctx.String("prom-addr"); len(addr) > 0 {
		stop := serveMetrics(ctx.Context, addr, registry)
		defer stop()
	}

	providers, err := OpenProviders(ctx.Context, conf.Backends)
	if err != nil {
		return err
	}
	defer func() {
		if err := providers.Close(); err != nil {
			logger.Warn("close backends", "error", err)
		}
	}()

	for name, b := range conf.Backends {
		if b.Seed == nil && !ctx.Bool("seed") {
			continue
		}
		seedConf := lo.FromPtr(b.Seed).WithDefaults()
		if err := SeedBackend(ctx.Context, providers[name], dialectOf(b.Type), seedConf); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
	}

	first := 1
	for _, name := range conf.writeBackends() {
		next, err := NextPostID(ctx.Context, providers[name])
		if err != nil {
			logger.Warn("cannot read next post id", "backend", name, "error", err)
			continue
		}
		first = max(first, next)
	}

	var (
		reporter = metrics.NewReporter(recorder, metrics.SlogSink{Logger: logger})
		stop     = reporter.Start(ctx.Context, conf.ReportInterval)
		runner   = bench.Runner{
			Providers:   providers.Bench(),
			Recorder:    recorder,
			Units:       postUnits(first),
			Parallelism: conf.Parallelism,
		}
	)

	report := runner.Run(ctx.Context, conf.Configurations)
	stop()

	bench.PrintReport(os.Stdout, report)
	metrics.NewReporter(recorder, bench.TableSink{W: os.Stdout}).Report(ctx.Context)

	if label := ctx.String("baseline"); len(label) > 0 {
		printComparisons(report, label)
	}

	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%w: %d of %d", errFailedConfigurations, n, len(report.Results))
	}
	return nil
}

func printComparisons(report bench.Report, label string) {
	baseline, ok := lo.Find(report.Results, func(res bench.RunResult) bool { return res.Label == label })
	if !ok {
		fmt.Fprintf(os.Stdout, "\n  no configuration labelled %s\n", label)
		return
	}

	for _, res := range report.Results {
		if res.Label != label {
			bench.PrintComparison(os.Stdout, baseline, res)
		}
	}
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) (stop func()) {
	var (
		logger = slogctx.FromCtx(ctx)
		mux    = http.NewServeMux()
	)

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("starting metrics server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
}
