// Package harness runs deterministic, scripted simulation scenarios for
// testing. Nodes step in lockstep over in-memory links instead of TCP,
// and every random draw is scripted in the scenario file, so a scenario
// always produces the same event trace. Golden files pin those traces.
package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run: a fixed set of nodes, each with a
// deterministic sequence of decision draws, stepped for a fixed number
// of ticks.
type Scenario struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Ticks       int          `yaml:"ticks"`
	Nodes       []NodeScript `yaml:"nodes"`
}

// NodeScript configures one scripted node.
type NodeScript struct {
	ID            int `yaml:"id"`
	SendThreshold int `yaml:"send_threshold"`
	// Draws replaces the node's random draw stream. Draws are consumed
	// only on ticks with an empty queue; once exhausted, every further
	// draw is 10 (an internal event).
	Draws []int `yaml:"draws,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("harness: parse %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("harness: %s: %w", path, err)
	}
	return &sc, nil
}

// Validate reports scenario errors.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario needs a name")
	}
	if s.Ticks < 1 {
		return fmt.Errorf("ticks must be >= 1, got %d", s.Ticks)
	}
	if len(s.Nodes) == 0 {
		return fmt.Errorf("scenario needs at least one node")
	}
	seen := make(map[int]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID < 1 {
			return fmt.Errorf("node id must be >= 1, got %d", n.ID)
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %d", n.ID)
		}
		seen[n.ID] = true
		if n.SendThreshold < 1 || n.SendThreshold > 10 {
			return fmt.Errorf("node %d: send threshold must be in [1,10], got %d", n.ID, n.SendThreshold)
		}
		for _, d := range n.Draws {
			if d < 1 || d > 10 {
				return fmt.Errorf("node %d: draw must be in [1,10], got %d", n.ID, d)
			}
		}
	}
	return nil
}
