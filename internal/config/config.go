// Package config loads engine configuration from YAML, filling zero
// values with defaults so a partial file is always usable.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML strings like "500ms" or "2m" into a
// time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full engine configuration.
type Config struct {
	API       API       `yaml:"api"`
	Pattern   Pattern   `yaml:"pattern"`
	Prefetch  Prefetch  `yaml:"prefetch"`
	Bandwidth Bandwidth `yaml:"bandwidth"`
	Cache     Cache     `yaml:"cache"`
}

// API configures the remote resource client.
type API struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// Pattern tunes tracking and prediction.
type Pattern struct {
	MaxEdgesPerRoute     int      `yaml:"max_edges_per_route"`
	ProbabilityThreshold float64  `yaml:"probability_threshold"`
	RecencyWeight        float64  `yaml:"recency_weight"`
	FlushInterval        Duration `yaml:"flush_interval"`
}

// Prefetch tunes the queue.
type Prefetch struct {
	TopN           int      `yaml:"top_n"`
	MaxConcurrent  int      `yaml:"max_concurrent"`
	MaxRetries     int      `yaml:"max_retries"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	StaleTime      Duration `yaml:"stale_time"`
	WasteThreshold Duration `yaml:"waste_threshold"`
}

// Bandwidth tunes the prefetch byte budget.
type Bandwidth struct {
	BudgetBytes int64    `yaml:"budget_bytes"`
	Window      Duration `yaml:"window"`
}

// Cache tunes the query cache.
type Cache struct {
	DefaultStaleTime Duration `yaml:"default_stale_time"`
	MaxRetries       int      `yaml:"max_retries"`
	InitialBackoff   Duration `yaml:"initial_backoff"`
	MaxBackoff       Duration `yaml:"max_backoff"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		API: API{
			BaseURL: "http://localhost:8080",
			Timeout: Duration(15 * time.Second),
		},
		Pattern: Pattern{
			MaxEdgesPerRoute:     10,
			ProbabilityThreshold: 0.05,
			RecencyWeight:        0.1,
			FlushInterval:        Duration(30 * time.Second),
		},
		Prefetch: Prefetch{
			TopN:           3,
			MaxConcurrent:  2,
			MaxRetries:     3,
			InitialBackoff: Duration(500 * time.Millisecond),
			MaxBackoff:     Duration(10 * time.Second),
			StaleTime:      Duration(30 * time.Second),
			WasteThreshold: Duration(5 * time.Minute),
		},
		Bandwidth: Bandwidth{
			BudgetBytes: 512 * 1024,
			Window:      Duration(10 * time.Second),
		},
		Cache: Cache{
			DefaultStaleTime: Duration(30 * time.Second),
			MaxRetries:       2,
			InitialBackoff:   Duration(100 * time.Millisecond),
			MaxBackoff:       Duration(2 * time.Second),
		},
	}
}

// Load reads path over the defaults. A missing path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
