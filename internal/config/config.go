// Package config loads and validates archiver configuration via Viper.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/news-archiver/internal/archiver"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Image backends.
const (
	ImagesLocal  = "local"
	ImagesGCS    = "gcs"
	ImagesMemory = "memory"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Bypass      BypassConfig      `mapstructure:"bypass"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Images      ImagesConfig      `mapstructure:"images"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Server      ServerConfig      `mapstructure:"server"`
	SourceList  []SourceConfig    `mapstructure:"sources"`
	SourcesFile string            `mapstructure:"sources_file"`
	Sources     []archiver.Source `mapstructure:"-"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures the rate-limited fetcher.
type HTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	MinInterval   time.Duration `mapstructure:"min_interval"`
	UserAgents    []string      `mapstructure:"user_agents"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes"`
}

// BypassConfig tunes the paywall bypass chain.
type BypassConfig struct {
	MinChars       int           `mapstructure:"min_chars"`
	Markers        []string      `mapstructure:"markers"`
	RelayPrimary   string        `mapstructure:"relay_primary"`
	RelaySecondary string        `mapstructure:"relay_secondary"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// HeadlessConfig configures the headless rendering strategy.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// PipelineConfig governs the per-run source fan-out.
type PipelineConfig struct {
	SourceConcurrency int           `mapstructure:"source_concurrency"`
	Enrich            bool          `mapstructure:"enrich"`
	Interval          time.Duration `mapstructure:"interval"`
	RedirectorHosts   []string      `mapstructure:"redirector_hosts"`
	DescriptionLimit  int           `mapstructure:"description_limit"`
}

// StorageConfig selects the persistence gateway.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// ImagesConfig selects where preview images are cached.
type ImagesConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for article notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the ops HTTP server. Port zero disables it.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// SourceConfig is the on-disk shape of a source. Enabled is a pointer so an
// omitted flag can default to true.
type SourceConfig struct {
	archiver.Source `mapstructure:",squash" yaml:",inline"`
	Enabled         *bool `mapstructure:"enabled" yaml:"enabled"`
}

// Resolve converts the entry into an archiver.Source.
func (s SourceConfig) Resolve() archiver.Source {
	src := s.Source
	src.Enabled = s.Enabled == nil || *s.Enabled
	return src
}

type sourcesDocument struct {
	Sources []SourceConfig `yaml:"sources"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	entries := cfg.SourceList
	if cfg.SourcesFile != "" {
		fromFile, err := LoadSourcesFile(cfg.SourcesFile)
		if err != nil {
			return Config{}, err
		}
		entries = append(entries, fromFile...)
	}
	for _, e := range entries {
		cfg.Sources = append(cfg.Sources, e.Resolve())
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadSourcesFile reads a YAML document with a top-level sources list.
// Unknown keys are rejected.
func LoadSourcesFile(path string) ([]SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc sourcesDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode sources file %s: %w", path, err)
	}
	return doc.Sources, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("http.timeout", "20s")
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_base", "2s")
	v.SetDefault("http.backoff_max", "30s")
	v.SetDefault("http.min_interval", "1s")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("bypass.min_chars", 500)
	v.SetDefault("bypass.relay_primary", "https://12ft.io/")
	v.SetDefault("bypass.relay_secondary", "https://removepaywalls.com/")
	v.SetDefault("bypass.timeout", "20s")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "45s")
	v.SetDefault("headless.settle_delay", "2s")
	v.SetDefault("pipeline.source_concurrency", 4)
	v.SetDefault("pipeline.enrich", true)
	v.SetDefault("pipeline.interval", "15m")
	v.SetDefault("pipeline.description_limit", 500)
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "data/archive.db")
	v.SetDefault("storage.max_conns", 4)
	v.SetDefault("storage.migrate", true)
	v.SetDefault("images.backend", ImagesLocal)
	v.SetDefault("images.dir", "data/images")
	v.SetDefault("server.port", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.MinInterval < 0 {
		return fmt.Errorf("http.min_interval must be >= 0")
	}
	if c.Bypass.MinChars < 0 {
		return fmt.Errorf("bypass.min_chars must be >= 0")
	}
	for _, relay := range []string{c.Bypass.RelayPrimary, c.Bypass.RelaySecondary} {
		if relay != "" && !isHTTPURL(relay) {
			return fmt.Errorf("bypass relay %q must be an http(s) URL", relay)
		}
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Pipeline.SourceConcurrency <= 0 {
		return fmt.Errorf("pipeline.source_concurrency must be > 0")
	}
	if c.Pipeline.Interval <= 0 {
		return fmt.Errorf("pipeline.interval must be > 0")
	}
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Images.Backend {
	case ImagesLocal:
		if c.Images.Dir == "" {
			return fmt.Errorf("images.dir is required for the local backend")
		}
	case ImagesGCS:
		if c.Images.Bucket == "" {
			return fmt.Errorf("images.bucket is required for the gcs backend")
		}
	case ImagesMemory:
	default:
		return fmt.Errorf("unknown images.backend %q", c.Images.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	return validateSources(c.Sources)
}

func validateSources(sources []archiver.Source) error {
	seen := make(map[string]struct{}, len(sources))
	var errs []error
	for i, src := range sources {
		if !slugPattern.MatchString(src.Slug) {
			errs = append(errs, fmt.Errorf("sources[%d]: invalid slug %q", i, src.Slug))
			continue
		}
		if _, dup := seen[src.Slug]; dup {
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate slug %q", i, src.Slug))
		}
		seen[src.Slug] = struct{}{}
		if src.BaseURL != "" && !isHTTPURL(src.BaseURL) {
			errs = append(errs, fmt.Errorf("source %s: base_url must be an http(s) URL", src.Slug))
		}
		if len(src.Feeds) == 0 && src.BaseURL == "" {
			errs = append(errs, fmt.Errorf("source %s: at least one feed or a base_url is required", src.Slug))
		}
		for _, f := range src.Feeds {
			if !isHTTPURL(f.URL) {
				errs = append(errs, fmt.Errorf("source %s: feed %q must be an http(s) URL", src.Slug, f.URL))
			}
			switch f.Kind {
			case "", archiver.EndpointSyndication, archiver.EndpointListing:
			default:
				errs = append(errs, fmt.Errorf("source %s: unknown feed kind %q", src.Slug, f.Kind))
			}
		}
		for _, rule := range src.Selectors {
			switch rule.Field {
			case archiver.FieldHeadline, archiver.FieldByline, archiver.FieldDescription,
				archiver.FieldImage, archiver.FieldPublished, archiver.FieldBody:
			default:
				errs = append(errs, fmt.Errorf("source %s: unknown selector field %q", src.Slug, rule.Field))
			}
			if strings.TrimSpace(rule.Selector) == "" {
				errs = append(errs, fmt.Errorf("source %s: empty selector for %s", src.Slug, rule.Field))
			}
		}
		for _, p := range append(append([]string(nil), src.IncludeURLs...), src.ExcludeURLs...) {
			if _, err := regexp.Compile(p); err != nil {
				errs = append(errs, fmt.Errorf("source %s: invalid url pattern %q: %w", src.Slug, p, err))
			}
		}
		if src.CheckInterval < 0 || src.MinInterval < 0 {
			errs = append(errs, fmt.Errorf("source %s: intervals must be >= 0", src.Slug))
		}
	}
	return errors.Join(errs...)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Source returns the configured source with slug.
func (c Config) Source(slug string) (archiver.Source, bool) {
	for _, s := range c.Sources {
		if s.Slug == slug {
			return s, true
		}
	}
	return archiver.Source{}, false
}

// EnabledSources returns sources with Enabled set, in configured order.
func (c Config) EnabledSources() []archiver.Source {
	var out []archiver.Source
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}
