package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaProvider implements Embedder using a local Ollama server
type OllamaProvider struct {
	id         Identity
	baseURL    string
	httpClient *http.Client
	cache      *Cache
}

// NewOllamaProvider creates an embedder for Ollama's /api/embed endpoint
func NewOllamaProvider(cfg Config, cache *Cache) (*OllamaProvider, error) {
	id := Identity{Provider: ProviderOllama, Model: DefaultOllamaModel, Dimension: OllamaDimension}
	if cfg.Model != "" {
		id.Model = cfg.Model
	}
	if cfg.Dimension > 0 {
		id.Dimension = cfg.Dimension
	}
	baseURL := DefaultOllamaURL
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}

	return &OllamaProvider{
		id:         id,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.timeout()},
		cache:      cache,
	}, nil
}

func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := o.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (o *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	embeddings, err := batchWithCache(ctx, o.cache, o.id, req.Texts, func(ctx context.Context, texts []string) ([][]float32, error) {
		vectors, err := retryWithBackoff(ctx, DefaultRetryConfig(), func() ([][]float32, error) {
			return o.embed(ctx, texts)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: ollama: %v", ErrProviderFailed, err)
		}
		return vectors, nil
	})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderOllama,
		Model:      o.id.Model,
	}, nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (o *OllamaProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.id.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
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

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Embeddings, nil
}

func (o *OllamaProvider) Dimension() int {
	return o.id.Dimension
}

func (o *OllamaProvider) Provider() string {
	return ProviderOllama
}

func (o *OllamaProvider) Model() string {
	return o.id.Model
}

func (o *OllamaProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}
