package bench

import (
	"context"
	"errors"
	"fmt"
	"time"

	"batchbench/batch"
	"batchbench/cursor"

	"github.com/samber/lo"
)

type ConnConfig struct {
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Database string            `yaml:"database"`
	DSN      string            `yaml:"dsn"`
	Options  map[string]string `yaml:"options"`
}

type Kind string

const (
	KindWrite Kind = "write"
	KindRead  Kind = "read"
	// KindAcquire times session acquire/release round trips.
	KindAcquire Kind = "acquire"
	// KindCall times one scalar query per call.
	KindCall Kind = "call"
)

type Strategy string

const (
	StrategyDirect  Strategy = "direct"
	StrategyBatched Strategy = "batched"
	StrategyRewrite Strategy = "rewrite"
)

type ReadMode string

const (
	ReadDrain  ReadMode = "drain"
	ReadRandom ReadMode = "random"
)

type WriteConfig struct {
	Strategy  Strategy `yaml:"strategy"`
	Statement string   `yaml:"statement"`
	Units     int      `yaml:"units"`
	BatchSize int      `yaml:"batchSize"`
	// Prepared and CacheStatements only apply to the direct strategy.
	Prepared        bool `yaml:"prepared"`
	CacheStatements bool `yaml:"cacheStatements"`
	// ContinueOnError skips units rejected by the backend instead of
	// ending the trial.
	ContinueOnError bool `yaml:"continueOnError"`
}

func (conf WriteConfig) WithDefaults() WriteConfig {
	if len(conf.Strategy) == 0 {
		conf.Strategy = StrategyBatched
	}
	if conf.BatchSize == 0 {
		conf.BatchSize = 50
	}
	return conf
}

type ReadConfig struct {
	Query     string        `yaml:"query"`
	Mode      ReadMode      `yaml:"mode"`
	Cursor    cursor.Config `yaml:"cursor"`
	Positions []int         `yaml:"positions"`
	// Rows generates ascending positions 1..Rows when Positions is empty.
	Rows int `yaml:"rows"`
}

func (conf ReadConfig) WithDefaults() ReadConfig {
	if len(conf.Mode) == 0 {
		conf.Mode = ReadDrain
	}
	if conf.Mode == ReadRandom && len(conf.Positions) == 0 {
		conf.Positions = make([]int, conf.Rows)
		for i := range conf.Positions {
			conf.Positions[i] = i + 1
		}
	}
	return conf
}

type AcquireConfig struct {
	Calls int `yaml:"calls"`
}

func (conf AcquireConfig) WithDefaults() AcquireConfig {
	if conf.Calls <= 0 {
		conf.Calls = 100
	}
	return conf
}

// CallConfig repeats Query until Calls calls are made or Duration has
// passed, whichever comes first. Zero disables either bound.
type CallConfig struct {
	Query    string        `yaml:"query"`
	Calls    int           `yaml:"calls"`
	Duration time.Duration `yaml:"duration"`
}

func (conf CallConfig) WithDefaults() CallConfig {
	if conf.Calls <= 0 && conf.Duration <= 0 {
		conf.Calls = 1000
	}
	return conf
}

// Configuration is one cell of the benchmark matrix.
type Configuration struct {
	Label     string        `yaml:"label"`
	Backend   string        `yaml:"backend"`
	Kind      Kind          `yaml:"kind"`
	Write     WriteConfig   `yaml:"write"`
	Read      ReadConfig    `yaml:"read"`
	Acquire   AcquireConfig `yaml:"acquire"`
	Call      CallConfig    `yaml:"call"`
	Isolation Isolation     `yaml:"isolation"`
	Timeout   time.Duration `yaml:"timeout"`
	Trials    int           `yaml:"trials"`
	Warmup    int           `yaml:"warmup"`
}

func (conf Configuration) WithDefaults() Configuration {
	if len(conf.Kind) == 0 {
		conf.Kind = KindWrite
	}
	conf.Write = conf.Write.WithDefaults()
	conf.Read = conf.Read.WithDefaults()
	conf.Acquire = conf.Acquire.WithDefaults()
	conf.Call = conf.Call.WithDefaults()
	if conf.Trials <= 0 {
		conf.Trials = 1
	}
	if len(conf.Label) == 0 {
		conf.Label = conf.defaultLabel()
	}
	return conf
}

func (conf Configuration) defaultLabel() string {
	switch conf.Kind {
	case KindAcquire:
		return fmt.Sprintf("%s/acquire/calls=%d", conf.Backend, conf.Acquire.Calls)
	case KindCall:
		if conf.Call.Duration > 0 {
			return fmt.Sprintf("%s/call/for=%s", conf.Backend, conf.Call.Duration)
		}
		return fmt.Sprintf("%s/call/calls=%d", conf.Backend, conf.Call.Calls)
	case KindRead:
		return fmt.Sprintf("%s/read/%s/%s/fetch=%d",
			conf.Backend, conf.Read.Mode, conf.Read.Cursor.Mode(), conf.Read.Cursor.FetchSize)
	default:
		return fmt.Sprintf("%s/write/%s/batch=%d",
			conf.Backend, conf.Write.Strategy, conf.Write.BatchSize)
	}
}

// Session is one acquired connection bound to a backend configuration.
type Session interface {
	Executor(ctx context.Context, w WriteConfig) (batch.Executor, error)
	Cursors() cursor.Source
	SetIsolation(ctx context.Context, level Isolation) error
}

// Provider hands out sessions. The release function returned by Acquire
// must be called exactly once.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Acquire(ctx context.Context) (Session, func(), error)
}

type RunResult struct {
	Label   string
	Backend string
	Kind    Kind
	Elapsed time.Duration
	Err     error

	Write batch.Stats
	Read  cursor.Result
	// Calls counts the acquire or call round trips of acquire and call
	// configurations.
	Calls int

	Trials []time.Duration
	Steady bool
}

func (r RunResult) OK() bool { return r.Err == nil }

// ErrorKind names the failure class of r, or "" on success.
func (r RunResult) ErrorKind() string {
	var (
		execErr      *batch.ExecutionError
		flushErr     *batch.FlushError
		cursorErr    *cursor.UnsupportedCursorError
		acquireErr   *AcquisitionError
		isolationErr *UnsupportedIsolationError
	)

	switch {
	case r.Err == nil:
		return ""
	case errors.Is(r.Err, ErrTimedOut):
		return "Timeout"
	case errors.As(r.Err, &acquireErr):
		return "AcquisitionError"
	case errors.As(r.Err, &flushErr):
		return "FlushError"
	case errors.As(r.Err, &execErr):
		return "ExecutionError"
	case errors.As(r.Err, &cursorErr):
		return "UnsupportedCursorError"
	case errors.As(r.Err, &isolationErr):
		return "UnsupportedIsolationError"
	default:
		return "Error"
	}
}

type Report struct {
	RunID   string
	Started time.Time
	Elapsed time.Duration
	Results []RunResult
}

func (r Report) Failed() int {
	return lo.CountBy(r.Results, func(res RunResult) bool { return !res.OK() })
}
