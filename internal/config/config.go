// Package config loads pipeline configuration from pipeline.yaml with env
// overrides, and supports hot reload of the tunable scoring weights.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// TemporalConfig holds Temporal client/worker settings.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// DatabaseConfig holds persistence store settings. Driver is "postgres" for
// production or "sqlite3" for local runs.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"` // sqlite3 only
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

// RedisConfig holds the knowledge-graph summary store settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Weights are the tunable confidence-scoring weights. The defaults follow the
// historical 30/20/20/20/10 split but are configuration, not constants.
type Weights struct {
	Keywords  float64 `mapstructure:"keywords" yaml:"keywords"`
	Agreement float64 `mapstructure:"agreement" yaml:"agreement"`
	Volume    float64 `mapstructure:"volume" yaml:"volume"`
	Reported  float64 `mapstructure:"reported" yaml:"reported"`
	Graph     float64 `mapstructure:"graph" yaml:"graph"`
}

// ScoringConfig controls the confidence scorer and the rework gate.
type ScoringConfig struct {
	Threshold float64  `mapstructure:"threshold"`
	Weights   Weights  `mapstructure:"weights"`
	Keywords  []string `mapstructure:"keywords"` // default category keywords when the caller supplies no hints
}

// ProviderConfig describes one research provider endpoint.
type ProviderConfig struct {
	Name             string  `mapstructure:"name"`
	URL              string  `mapstructure:"url"`
	RatePerSecond    float64 `mapstructure:"rate_per_second"`
	Burst            int     `mapstructure:"burst"`
	ReportConfidence bool    `mapstructure:"report_confidence"`
}

// ExtractionConfig controls the profile extraction call.
type ExtractionConfig struct {
	URL             string `mapstructure:"url"`
	MaxContextChars int    `mapstructure:"max_context_chars"`
	SchemaPath      string `mapstructure:"schema_path"` // optional override of the built-in schema
}

// MediaConfig bounds the best-effort media generation phase.
type MediaConfig struct {
	URL          string        `mapstructure:"url"`
	MaxAssets    int           `mapstructure:"max_assets"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	JobDeadline  time.Duration `mapstructure:"job_deadline"`
}

// GraphConfig bounds the knowledge-graph summary publication.
type GraphConfig struct {
	SummaryMaxChars int           `mapstructure:"summary_max_chars"`
	NeighborLimit   int           `mapstructure:"neighbor_limit"`
	TTL             time.Duration `mapstructure:"ttl"`
}

// RunConfig holds per-run deadlines and retry caps.
type RunConfig struct {
	OverallTimeout   time.Duration `mapstructure:"overall_timeout"`
	ResearchTimeout  time.Duration `mapstructure:"research_timeout"`
	ReworkTimeout    time.Duration `mapstructure:"rework_timeout"`
	ProviderAttempts int           `mapstructure:"provider_attempts"`
	CrawlMaxURLs     int           `mapstructure:"crawl_max_urls"`
	CrawlerURL       string        `mapstructure:"crawler_url"`
}

// MetricsConfig holds the admin HTTP endpoint settings.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// Config is the full pipeline configuration.
type Config struct {
	Temporal   TemporalConfig   `mapstructure:"temporal"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Providers  []ProviderConfig `mapstructure:"providers"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Media      MediaConfig      `mapstructure:"media"`
	Graph      GraphConfig      `mapstructure:"graph"`
	Run        RunConfig        `mapstructure:"run"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`

	mu sync.RWMutex
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("temporal.host_port", "temporal:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "pipeline-task-queue")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "pipeline")
	v.SetDefault("database.database", "pipeline")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", 5*time.Minute)

	v.SetDefault("redis.addr", "redis:6379")

	v.SetDefault("scoring.threshold", 0.7)
	v.SetDefault("scoring.weights.keywords", 0.3)
	v.SetDefault("scoring.weights.agreement", 0.2)
	v.SetDefault("scoring.weights.volume", 0.2)
	v.SetDefault("scoring.weights.reported", 0.2)
	v.SetDefault("scoring.weights.graph", 0.1)
	v.SetDefault("scoring.keywords", []string{"company", "profile", "about", "founded", "services"})

	v.SetDefault("extraction.url", "http://llm-service:8000")
	v.SetDefault("extraction.max_context_chars", 24000)

	v.SetDefault("media.url", "http://media-service:8100")
	v.SetDefault("media.max_assets", 2)
	v.SetDefault("media.poll_interval", 5*time.Second)
	v.SetDefault("media.job_deadline", 3*time.Minute)

	v.SetDefault("graph.summary_max_chars", 500)
	v.SetDefault("graph.neighbor_limit", 8)
	v.SetDefault("graph.ttl", 30*24*time.Hour)

	v.SetDefault("run.overall_timeout", 15*time.Minute)
	v.SetDefault("run.research_timeout", 3*time.Minute)
	v.SetDefault("run.rework_timeout", 2*time.Minute)
	v.SetDefault("run.provider_attempts", 3)
	v.SetDefault("run.crawl_max_urls", 5)
	v.SetDefault("run.crawler_url", "http://crawler:8200")

	v.SetDefault("metrics.port", 2112)
}

// Load reads pipeline.yaml from path, or from CONFIG_PATH when path is empty,
// falling back to built-in defaults when no file exists.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PIPELINE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Scoring.Threshold < 0 || c.Scoring.Threshold > 1 {
		return fmt.Errorf("scoring.threshold %v outside [0,1]", c.Scoring.Threshold)
	}
	w := c.Scoring.Weights
	sum := w.Keywords + w.Agreement + w.Volume + w.Reported + w.Graph
	if sum <= 0 {
		return fmt.Errorf("scoring weights sum to %v, need > 0", sum)
	}
	if c.Run.ProviderAttempts < 1 {
		return fmt.Errorf("run.provider_attempts must be >= 1")
	}
	if c.Media.MaxAssets < 0 {
		return fmt.Errorf("media.max_assets must be >= 0")
	}
	return nil
}

// ScoringSnapshot returns the current scoring settings under the read lock, so
// hot reloads never race activity reads.
func (c *Config) ScoringSnapshot() ScoringConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := c.Scoring
	out.Keywords = append([]string(nil), c.Scoring.Keywords...)
	return out
}

// UpdateScoring replaces the tunable scoring settings. Called by the config
// watcher on file change.
func (c *Config) UpdateScoring(s ScoringConfig) error {
	probe := Config{Scoring: s, Run: RunConfig{ProviderAttempts: 1}}
	if err := probe.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.Scoring = s
	c.mu.Unlock()
	return nil
}

// ProviderNames returns the configured provider names in order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		names = append(names, p.Name)
	}
	return names
}
