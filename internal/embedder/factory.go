package embedder

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds embedder configuration
type Config struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"-"`
	Dimension int           `yaml:"dimension"`
	CacheSize int           `yaml:"cache_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// New creates an embedder with explicit configuration. An empty provider
// selects the local embedder.
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		return NewJinaProvider(cfg, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg, cache)
	case ProviderOllama:
		return NewOllamaProvider(cfg, cache)
	case ProviderLocal, "":
		return NewLocalProvider(cfg, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. PROTOCOLQA_EMBEDDING_PROVIDER (jina, openai, ollama, local)
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Embedder, error) {
	cfg := Config{Provider: DetectProvider(), CacheSize: 10000}
	ApplyAPIKey(&cfg)
	return New(cfg)
}

// ApplyAPIKey fills cfg.APIKey from the provider's environment variable
// when it is not already set
func ApplyAPIKey(cfg *Config) {
	if cfg.APIKey != "" {
		return
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		cfg.APIKey = os.Getenv(EnvJinaAPIKey)
	case ProviderOpenAI:
		cfg.APIKey = os.Getenv(EnvOpenAIAPIKey)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}
