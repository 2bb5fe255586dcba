// Package seeder generates realistic webhook traffic for development and
// load testing.
package seeder

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration strings like "24h" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Scenario describes a seeding run.
type Scenario struct {
	// BaseURL is the gatehawk server to post webhooks to.
	BaseURL string `yaml:"base_url"`
	// Count is the total number of events to send.
	Count int `yaml:"count"`
	// TimeSpread distributes event timestamps over this window ending now.
	TimeSpread Duration `yaml:"time_spread"`
	// AccessRatio is the fraction of events sent as access events, the
	// remainder are protect events. Range 0..1.
	AccessRatio float64 `yaml:"access_ratio"`
	// Locations are the door/camera names events are spread across. Shared
	// names across both sources make correlation groups likely.
	Locations []string `yaml:"locations"`
	// Actors is the size of the generated badge-holder pool.
	Actors int `yaml:"actors"`
	// Seed fixes the random sequence; 0 uses the current time.
	Seed    int64 `yaml:"seed"`
	Secrets struct {
		Access  string `yaml:"access"`
		Protect string `yaml:"protect"`
	} `yaml:"secrets"`
}

// DefaultScenario returns a small local-development scenario.
func DefaultScenario() Scenario {
	return Scenario{
		BaseURL:     "http://localhost:8080",
		Count:       200,
		TimeSpread:  Duration(24 * time.Hour),
		AccessRatio: 0.6,
		Locations:   []string{"Front Door", "Back Door", "Loading Dock", "Lobby"},
		Actors:      12,
	}
}

// LoadScenario reads a scenario YAML file, filling unset fields from the
// defaults.
func LoadScenario(path string) (Scenario, error) {
	s := DefaultScenario()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("failed to read scenario: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := s.validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (s Scenario) validate() error {
	if s.Count < 1 {
		return fmt.Errorf("count must be positive, got %d", s.Count)
	}
	if s.AccessRatio < 0 || s.AccessRatio > 1 {
		return fmt.Errorf("access_ratio must be in [0,1], got %g", s.AccessRatio)
	}
	if len(s.Locations) == 0 {
		return fmt.Errorf("at least one location is required")
	}
	return nil
}
