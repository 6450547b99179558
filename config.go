package archidex

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "30s" or "2m"; bare numbers are seconds.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.D().String(), nil
}

// Config is the engine configuration. Zero values fall back to the defaults
// from DefaultConfig, so a partial YAML file is enough.
type Config struct {
	Source struct {
		// BaseURL serves the dataset artifacts over HTTP.
		BaseURL string `yaml:"base_url"`
		// DataDir reads artifacts from a local directory instead.
		// Takes precedence over BaseURL when both are set.
		DataDir     string   `yaml:"data_dir"`
		HTTPTimeout Duration `yaml:"http_timeout"`
	} `yaml:"source"`

	Cache struct {
		MaxItems      int      `yaml:"max_items"`
		MaxBytes      int64    `yaml:"max_bytes"`
		ResultTTL     Duration `yaml:"result_ttl"`
		RecordTTL     Duration `yaml:"record_ttl"`
		SweepInterval Duration `yaml:"sweep_interval"`
		// DurablePath points at the SQLite file of the durable tier.
		// Empty disables the tier.
		DurablePath string `yaml:"durable_path"`
	} `yaml:"cache"`

	Query struct {
		MaxPageLoads int `yaml:"max_page_loads"`
		Parallelism  int `yaml:"parallelism"`
	} `yaml:"query"`

	Prefetch struct {
		Enabled   bool     `yaml:"enabled"`
		QueueSize int      `yaml:"queue_size"`
		Window    Duration `yaml:"window"`
	} `yaml:"prefetch"`

	Index struct {
		CompressedPostings bool `yaml:"compressed_postings"`
	} `yaml:"index"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	var cfg Config
	cfg.Source.HTTPTimeout = Duration(30 * time.Second)
	cfg.Cache.MaxItems = 1024
	cfg.Cache.MaxBytes = 64 << 20
	cfg.Cache.ResultTTL = Duration(2 * time.Minute)
	cfg.Cache.RecordTTL = Duration(30 * time.Minute)
	cfg.Cache.SweepInterval = Duration(time.Minute)
	cfg.Query.MaxPageLoads = 32
	cfg.Query.Parallelism = 8
	cfg.Prefetch.Enabled = true
	cfg.Prefetch.QueueSize = 8
	cfg.Prefetch.Window = Duration(30 * time.Second)
	return cfg
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Source.HTTPTimeout <= 0 {
		c.Source.HTTPTimeout = def.Source.HTTPTimeout
	}
	if c.Cache.MaxItems <= 0 {
		c.Cache.MaxItems = def.Cache.MaxItems
	}
	if c.Cache.MaxBytes <= 0 {
		c.Cache.MaxBytes = def.Cache.MaxBytes
	}
	if c.Cache.ResultTTL <= 0 {
		c.Cache.ResultTTL = def.Cache.ResultTTL
	}
	if c.Cache.RecordTTL <= 0 {
		c.Cache.RecordTTL = def.Cache.RecordTTL
	}
	if c.Query.MaxPageLoads <= 0 {
		c.Query.MaxPageLoads = def.Query.MaxPageLoads
	}
	if c.Query.Parallelism <= 0 {
		c.Query.Parallelism = def.Query.Parallelism
	}
	if c.Prefetch.QueueSize <= 0 {
		c.Prefetch.QueueSize = def.Prefetch.QueueSize
	}
	if c.Prefetch.Window <= 0 {
		c.Prefetch.Window = def.Prefetch.Window
	}
	return c
}
