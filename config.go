package main

import (
	"fmt"
	"os"
	"time"

	"batchbench/bench"
	"batchbench/workload"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// DefaultUnits is the number of rows a write trial inserts when the
// configuration leaves it unset.
const DefaultUnits = 5000

type BackendConfig struct {
	// Type selects the driver: postgres, postgres-pq, mysql, sqlite or
	// clickhouse. It defaults to the backend name.
	Type string               `yaml:"type"`
	Conn bench.ConnConfig     `yaml:"conn"`
	Seed *workload.SeedConfig `yaml:"seed"`
}

type MatrixConfig struct {
	Backends       map[string]BackendConfig `yaml:"backends"`
	Parallelism    int                      `yaml:"parallelism"`
	ReportInterval time.Duration            `yaml:"reportInterval"`
	Configurations []bench.Configuration    `yaml:"configurations"`
}

func LoadConfig(path string) (MatrixConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MatrixConfig{}, err
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (MatrixConfig, error) {
	var conf MatrixConfig

	if err := yaml.Unmarshal(data, &conf); err != nil {
		return MatrixConfig{}, err
	}

	conf = conf.WithDefaults()

	if err := conf.Validate(); err != nil {
		return MatrixConfig{}, err
	}
	return conf, nil
}

func (conf MatrixConfig) WithDefaults() MatrixConfig {
	for name, b := range conf.Backends {
		if len(b.Type) == 0 {
			b.Type = name
		}
		conf.Backends[name] = b
	}

	if conf.Parallelism <= 0 {
		conf.Parallelism = 1
	}

	for i, c := range conf.Configurations {
		b, ok := conf.Backends[c.Backend]
		if !ok {
			continue
		}
		conf.Configurations[i] = withWorkload(c, dialectOf(b.Type))
	}
	return conf
}

func (conf MatrixConfig) Validate() error {
	if len(conf.Configurations) == 0 {
		return fmt.Errorf("no configurations")
	}

	for name, b := range conf.Backends {
		if _, ok := openers[b.Type]; !ok {
			return fmt.Errorf("backend %s: %w %q", name, bench.ErrUnknownBackend, b.Type)
		}
	}

	for i, c := range conf.Configurations {
		if _, ok := conf.Backends[c.Backend]; !ok {
			return fmt.Errorf("configuration %d (%s): %w %q", i, c.Label, bench.ErrUnknownBackend, c.Backend)
		}
		switch c.Kind {
		case bench.KindWrite, bench.KindRead, bench.KindAcquire, bench.KindCall:
		default:
			return fmt.Errorf("configuration %d (%s): unknown kind %q", i, c.Label, string(c.Kind))
		}
		if c.Kind == bench.KindWrite && c.Write.BatchSize < 0 {
			return fmt.Errorf("configuration %d (%s): batch size must be positive", i, c.Label)
		}
	}
	return nil
}

// writeBackends lists the backends that write configurations insert into.
func (conf MatrixConfig) writeBackends() []string {
	return lo.Uniq(lo.FilterMap(conf.Configurations, func(c bench.Configuration, _ int) (string, bool) {
		return c.Backend, c.Kind == bench.KindWrite
	}))
}

// withWorkload fills the statement, query and unit count a configuration
// leaves unset from the post workload in dialect d.
func withWorkload(c bench.Configuration, d workload.Dialect) bench.Configuration {
	if len(c.Write.Statement) == 0 {
		c.Write.Statement = d.InsertPost()
	}
	if c.Write.Units == 0 {
		c.Write.Units = DefaultUnits
	}
	if len(c.Read.Query) == 0 {
		c.Read.Query = workload.SelectAll
	}
	if len(c.Call.Query) == 0 {
		c.Call.Query = workload.SelectOne
	}
	return c.WithDefaults()
}
