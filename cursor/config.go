package cursor

import (
	"fmt"
	"strings"
)

type Scrollability int

const (
	ForwardOnly Scrollability = iota
	ScrollInsensitive
	ScrollSensitive
)

var scrollabilityNames = map[Scrollability]string{
	ForwardOnly:       "forward-only",
	ScrollInsensitive: "scroll-insensitive",
	ScrollSensitive:   "scroll-sensitive",
}

func (s Scrollability) String() string {
	if name, ok := scrollabilityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("scrollability(%d)", int(s))
}

func (s Scrollability) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Scrollability) UnmarshalText(text []byte) error {
	for k, v := range scrollabilityNames {
		if strings.EqualFold(v, string(text)) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown scrollability %q", string(text))
}

type Concurrency int

const (
	ReadOnly Concurrency = iota
	Updatable
)

func (c Concurrency) String() string {
	switch c {
	case ReadOnly:
		return "read-only"
	case Updatable:
		return "updatable"
	default:
		return fmt.Sprintf("concurrency(%d)", int(c))
	}
}

func (c Concurrency) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Concurrency) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "read-only", "":
		*c = ReadOnly
	case "updatable":
		*c = Updatable
	default:
		return fmt.Errorf("unknown concurrency %q", string(text))
	}
	return nil
}

// Mode is the (scrollability, concurrency) pair a backend advertises
// support for.
type Mode struct {
	Scrollability Scrollability
	Concurrency   Concurrency
}

func (m Mode) String() string {
	return m.Scrollability.String() + "/" + m.Concurrency.String()
}

type Config struct {
	Scrollability Scrollability `yaml:"scrollability"`
	Concurrency   Concurrency   `yaml:"concurrency"`
	// FetchSize is a hint; zero leaves the driver default.
	FetchSize int `yaml:"fetchSize"`
}

func (c Config) Mode() Mode {
	return Mode{Scrollability: c.Scrollability, Concurrency: c.Concurrency}
}

func (c Config) Scrollable() bool {
	return c.Scrollability != ForwardOnly
}

type Capabilities interface {
	SupportsCursor(m Mode) bool
}

// Modes is a static Capabilities listing every supported mode.
type Modes []Mode

func (ms Modes) SupportsCursor(m Mode) bool {
	for _, s := range ms {
		if s == m {
			return true
		}
	}
	return false
}

// AllModes enumerates every scrollability/concurrency combination.
func AllModes() []Mode {
	var out []Mode
	for _, s := range []Scrollability{ForwardOnly, ScrollInsensitive, ScrollSensitive} {
		for _, c := range []Concurrency{ReadOnly, Updatable} {
			out = append(out, Mode{Scrollability: s, Concurrency: c})
		}
	}
	return out
}
