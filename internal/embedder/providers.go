package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOllamaModel = "nomic-embed-text"
	DefaultLocalModel  = "hashing-v1"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	OllamaDimension = 768
	LocalDimension  = 384

	// Default endpoints
	DefaultJinaURL   = "https://api.jina.ai"
	DefaultOpenAIURL = "https://api.openai.com"
	DefaultOllamaURL = "http://localhost:11434"

	// Batch limits
	DefaultBatchSize = 32
	MaxBatchSize     = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0

	// Environment
	EnvProvider     = "PROTOCOLQA_EMBEDDING_PROVIDER"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// fetchFunc embeds texts that missed the cache
type fetchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// batchWithCache serves what it can from cache, fetches the rest in one call,
// normalizes and checks dimensions, then caches the new vectors.
func batchWithCache(ctx context.Context, cache *Cache, id Identity, texts []string, fetch fetchFunc) ([]*Embedding, error) {
	out := make([]*Embedding, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		key := cacheKey(id.Model, text)
		if cache != nil {
			if emb, ok := cache.Get(key); ok {
				out[i] = emb
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := fetch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrProviderFailed, len(vectors), len(missing))
	}

	for j, vec := range vectors {
		if len(vec) != id.Dimension {
			return nil, fmt.Errorf("%w: %s returned %d dimensions, want %d", ErrDimensionMismatch, id.Provider, len(vec), id.Dimension)
		}
		i := missingIdx[j]
		emb := &Embedding{
			Vector:    NormalizeVector(vec),
			Dimension: id.Dimension,
			Provider:  id.Provider,
			Model:     id.Model,
			Hash:      cacheKey(id.Model, texts[i]),
		}
		if cache != nil {
			cache.Set(emb.Hash, emb)
		}
		out[i] = emb
	}
	return out, nil
}

// APIProvider implements Embedder against an OpenAI-compatible
// /v1/embeddings endpoint. Jina and OpenAI share this wire format.
type APIProvider struct {
	id         Identity
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cache      *Cache
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(cfg Config, cache *Cache) (*APIProvider, error) {
	return newAPIProvider(cfg, cache, ProviderJina, DefaultJinaModel, JinaDimension, DefaultJinaURL, EnvJinaAPIKey)
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(cfg Config, cache *Cache) (*APIProvider, error) {
	return newAPIProvider(cfg, cache, ProviderOpenAI, DefaultOpenAIModel, OpenAIDimension, DefaultOpenAIURL, EnvOpenAIAPIKey)
}

func newAPIProvider(cfg Config, cache *Cache, name, model string, dim int, baseURL, keyEnv string) (*APIProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, keyEnv)
	}
	if cfg.Model != "" {
		model = cfg.Model
	}
	if cfg.Dimension > 0 {
		dim = cfg.Dimension
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}

	return &APIProvider{
		id:         Identity{Provider: name, Model: model, Dimension: dim},
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.timeout()},
		cache:      cache,
	}, nil
}

func (p *APIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (p *APIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	embeddings, err := batchWithCache(ctx, p.cache, p.id, req.Texts, func(ctx context.Context, texts []string) ([][]float32, error) {
		vectors, err := retryWithBackoff(ctx, DefaultRetryConfig(), func() ([][]float32, error) {
			return p.callAPI(ctx, texts)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, p.id.Provider, err)
		}
		return vectors, nil
	})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.id.Provider,
		Model:      p.id.Model,
	}, nil
}

func (p *APIProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(map[string]interface{}{
		"input": texts,
		"model": p.id.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bodyBytes)}
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// Responses carry an index per item; order by it rather than arrival
	vectors := make([][]float32, len(texts))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("response index %d out of range", data.Index)
		}
		vectors[data.Index] = data.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("response missing embedding %d", i)
		}
	}
	return vectors, nil
}

func (p *APIProvider) Dimension() int {
	return p.id.Dimension
}

func (p *APIProvider) Provider() string {
	return p.id.Provider
}

func (p *APIProvider) Model() string {
	return p.id.Model
}

func (p *APIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// StatusError is a non-200 reply from an embedding endpoint
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, strings.TrimSpace(e.Body))
}

// Retryable reports whether the request may succeed if sent again
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := math.Sqrt(sum)
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = float32(float64(val) / norm)
	}

	return result
}

// timeout returns the configured HTTP timeout or 30s
func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 30 * time.Second
}
