// Package config loads protocolqa settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/protocolqa/internal/embedder"
	"github.com/dshills/protocolqa/internal/engine"
	"github.com/dshills/protocolqa/internal/generator"
	"github.com/dshills/protocolqa/internal/indexer"
	"github.com/dshills/protocolqa/internal/resilience"
	"github.com/dshills/protocolqa/internal/windower"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Environment overrides
const (
	EnvConfigFile         = "PROTOCOLQA_CONFIG"
	EnvLogLevel           = "PROTOCOLQA_LOG_LEVEL"
	EnvLogFormat          = "PROTOCOLQA_LOG_FORMAT"
	EnvIndexDir           = "PROTOCOLQA_INDEX_DIR"
	EnvMaxTokens          = "PROTOCOLQA_WINDOW_MAX_TOKENS"
	EnvOverlap            = "PROTOCOLQA_WINDOW_OVERLAP"
	EnvEmbeddingModel     = "PROTOCOLQA_EMBEDDING_MODEL"
	EnvEmbeddingURL       = "PROTOCOLQA_EMBEDDING_URL"
	EnvGeneratorProvider  = "PROTOCOLQA_GENERATOR_PROVIDER"
	EnvGeneratorModel     = "PROTOCOLQA_GENERATOR_MODEL"
	EnvGeneratorURL       = "PROTOCOLQA_GENERATOR_URL"
	EnvRRFConstant        = "PROTOCOLQA_RRF_K"
	EnvMetricsAddr        = "PROTOCOLQA_METRICS_ADDR"
	DefaultConfigFileName = "protocolqa.yaml"
)

// LogConfig controls the process logger
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// IndexConfig controls where and how bundles are built
type IndexConfig struct {
	Dir         string          `yaml:"dir"`
	Windowing   windower.Config `yaml:"windowing"`
	BatchSize   int             `yaml:"batch_size"`
	Workers     int             `yaml:"workers"`
	UseExisting bool            `yaml:"use_existing"`
}

// Options converts the index settings for the indexer
func (c IndexConfig) Options() indexer.Options {
	return indexer.Options{
		Dir:         c.Dir,
		Windowing:   c.Windowing,
		BatchSize:   c.BatchSize,
		Workers:     c.Workers,
		UseExisting: c.UseExisting,
	}
}

// MetricsConfig controls the Prometheus listener
type MetricsConfig struct {
	Addr string `yaml:"addr"` // Empty disables the listener
}

// Config is the root configuration
type Config struct {
	Log        LogConfig         `yaml:"log"`
	Index      IndexConfig       `yaml:"index"`
	Embedder   embedder.Config   `yaml:"embedder"`
	Generator  generator.Config  `yaml:"generator"`
	Resilience resilience.Config `yaml:"resilience"`
	Engine     engine.Config     `yaml:"engine"`
	Metrics    MetricsConfig     `yaml:"metrics"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Index: IndexConfig{
			Dir:         ".protocolqa",
			Windowing:   windower.DefaultConfig(),
			BatchSize:   embedder.DefaultBatchSize,
			UseExisting: true,
		},
		Embedder: embedder.Config{
			Provider:  embedder.ProviderLocal,
			CacheSize: 10000,
		},
		Generator: generator.Config{
			Provider: generator.ProviderOllama,
			Timeout:  generator.DefaultTimeout,
		},
		Resilience: resilience.DefaultConfig(),
		Engine:     engine.DefaultConfig(),
	}
}

// Load reads path over the defaults, then applies environment overrides
// and validates. A missing file is not an error; an empty path uses
// PROTOCOLQA_CONFIG or protocolqa.yaml in the working directory.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path == "" {
		path = DefaultConfigFileName
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	embedder.ApplyAPIKey(&cfg.Embedder)
	generator.ApplyAPIKey(&cfg.Generator)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Log.Level, EnvLogLevel)
	setString(&c.Log.Format, EnvLogFormat)
	setString(&c.Index.Dir, EnvIndexDir)
	setString(&c.Embedder.Provider, embedder.EnvProvider)
	setString(&c.Embedder.Model, EnvEmbeddingModel)
	setString(&c.Embedder.BaseURL, EnvEmbeddingURL)
	setString(&c.Generator.Provider, EnvGeneratorProvider)
	setString(&c.Generator.Model, EnvGeneratorModel)
	setString(&c.Generator.BaseURL, EnvGeneratorURL)
	setString(&c.Metrics.Addr, EnvMetricsAddr)

	if err := setInt(&c.Index.Windowing.MaxTokens, EnvMaxTokens); err != nil {
		return err
	}
	if err := setInt(&c.Index.Windowing.Overlap, EnvOverlap); err != nil {
		return err
	}
	if v, ok := os.LookupEnv(EnvRRFConstant); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, EnvRRFConstant, err)
		}
		c.Engine.Search.RRFConstant = f
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	*dst = n
	return nil
}

// Validate checks the settings that cannot be defaulted silently
func (c *Config) Validate() error {
	if err := c.Index.Windowing.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.Log.Format)
	}

	switch strings.ToLower(c.Embedder.Provider) {
	case "", embedder.ProviderLocal, embedder.ProviderOllama, embedder.ProviderJina, embedder.ProviderOpenAI:
	default:
		return fmt.Errorf("%w: embedder provider %q", ErrInvalid, c.Embedder.Provider)
	}
	switch strings.ToLower(c.Generator.Provider) {
	case "", generator.ProviderOllama, generator.ProviderAnthropic:
	default:
		return fmt.Errorf("%w: generator provider %q", ErrInvalid, c.Generator.Provider)
	}

	if c.Engine.Search.RRFConstant <= 0 {
		return fmt.Errorf("%w: engine.search.rrf_k must be positive", ErrInvalid)
	}
	if c.Engine.Composer.MaxContextChars <= 0 {
		return fmt.Errorf("%w: engine.composer.max_context_chars must be positive", ErrInvalid)
	}
	if c.Engine.ExtractionSections <= 0 || c.Engine.ExtractionMaxChars <= 0 {
		return fmt.Errorf("%w: extraction sections and max chars must be positive", ErrInvalid)
	}
	if c.Index.BatchSize < 0 || c.Index.Workers < 0 {
		return fmt.Errorf("%w: batch size and workers must not be negative", ErrInvalid)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("%w: log level %q", ErrInvalid, s)
	}
	return level, nil
}

// NewLogger builds the process logger writing to w
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
