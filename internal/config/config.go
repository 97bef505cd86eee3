// Package config defines the run configuration contract for a whole
// simulation and loads it from YAML files merged over defaults.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can spell it either as a Go
// duration string ("30s", "2m") or as a plain number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: bad duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("config: duration must be a string or seconds: %w", err)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Run configures one simulation run.
//
// Tick rates resolve in precedence order: TickRates (explicit per node),
// then TickRate (one fixed rate for all nodes), then a per-node draw from
// [TickRateMin, TickRateMax].
type Run struct {
	Nodes         int       `yaml:"nodes"`
	Host          string    `yaml:"host"`
	BasePort      int       `yaml:"base_port"`
	SendThreshold int       `yaml:"send_threshold"`
	Duration      Duration  `yaml:"duration"`
	TickRate      float64   `yaml:"tick_rate"`
	TickRateMin   int       `yaml:"tick_rate_min"`
	TickRateMax   int       `yaml:"tick_rate_max"`
	TickRates     []float64 `yaml:"tick_rates"`
	Seed          int64     `yaml:"seed"`
	LogDir        string    `yaml:"log_dir"`
}

// Default returns the reference deployment's configuration: three nodes
// on localhost, tick rates drawn from [1,6], a one minute run.
func Default() Run {
	return Run{
		Nodes:         3,
		Host:          "127.0.0.1",
		BasePort:      5000,
		SendThreshold: 3,
		Duration:      Duration(60 * time.Second),
		TickRateMin:   1,
		TickRateMax:   6,
		LogDir:        "logs",
	}
}

// Load reads a YAML run configuration, layered over Default. Unknown
// fields are rejected so typos fail loudly at startup.
func Load(path string) (Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Run{}, fmt.Errorf("config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Run{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports configuration errors. Any error here is fatal before
// a single node starts.
func (r Run) Validate() error {
	if r.Nodes < 1 {
		return fmt.Errorf("config: need at least 1 node, got %d", r.Nodes)
	}
	if r.Host == "" {
		return fmt.Errorf("config: host must not be empty")
	}
	if r.BasePort < 1 || r.BasePort+r.Nodes > 65535 {
		return fmt.Errorf("config: base port %d leaves no room for %d node ports", r.BasePort, r.Nodes)
	}
	if r.SendThreshold < 1 || r.SendThreshold > 10 {
		return fmt.Errorf("config: send threshold must be in [1,10], got %d", r.SendThreshold)
	}
	if r.Duration.Std() <= 0 {
		return fmt.Errorf("config: duration must be > 0, got %s", r.Duration.Std())
	}
	if r.TickRate < 0 {
		return fmt.Errorf("config: tick rate must not be negative, got %g", r.TickRate)
	}
	if len(r.TickRates) > 0 {
		if len(r.TickRates) != r.Nodes {
			return fmt.Errorf("config: %d explicit tick rates for %d nodes", len(r.TickRates), r.Nodes)
		}
		for i, tr := range r.TickRates {
			if tr <= 0 {
				return fmt.Errorf("config: tick rate for node %d must be > 0, got %g", i+1, tr)
			}
		}
	} else if r.TickRate == 0 {
		if r.TickRateMin < 1 || r.TickRateMax < r.TickRateMin {
			return fmt.Errorf("config: bad tick rate range [%d,%d]", r.TickRateMin, r.TickRateMax)
		}
	}
	if r.LogDir == "" {
		return fmt.Errorf("config: log dir must not be empty")
	}
	return nil
}
