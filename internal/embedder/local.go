package embedder

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/dshills/protocolqa/internal/textutil"
)

// LocalProvider embeds text offline by hashing unigrams and bigrams into a
// fixed number of signed buckets. It needs no network and is deterministic,
// so bundles built with it reload on any machine.
type LocalProvider struct {
	id    Identity
	cache *Cache
}

// NewLocalProvider creates a new local feature-hashing embedder
func NewLocalProvider(cfg Config, cache *Cache) (*LocalProvider, error) {
	id := Identity{Provider: ProviderLocal, Model: DefaultLocalModel, Dimension: LocalDimension}
	if cfg.Dimension > 0 {
		id.Dimension = cfg.Dimension
	}
	if cfg.Model != "" && cfg.Model != DefaultLocalModel {
		return nil, fmt.Errorf("%w: local provider only supports %s", ErrUnsupportedModel, DefaultLocalModel)
	}
	return &LocalProvider{id: id, cache: cache}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := l.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings, err := batchWithCache(ctx, l.cache, l.id, req.Texts, func(ctx context.Context, texts []string) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i, text := range texts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			vectors[i] = l.hashText(text)
		}
		return vectors, nil
	})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.id.Model,
	}, nil
}

// hashText builds the raw, unnormalized feature vector for text
func (l *LocalProvider) hashText(text string) []float32 {
	vector := make([]float32, l.id.Dimension)
	var prev string
	for _, tok := range textutil.Tokenize(text) {
		if textutil.IsStopword(tok) {
			prev = ""
			continue
		}
		l.addFeature(vector, tok, 1)
		if prev != "" {
			l.addFeature(vector, prev+" "+tok, 0.5)
		}
		prev = tok
	}
	return vector
}

func (l *LocalProvider) addFeature(vector []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(len(vector)))
	if sum>>63 == 1 {
		weight = -weight
	}
	vector[idx] += weight
}

func (l *LocalProvider) Dimension() int {
	return l.id.Dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.id.Model
}

func (l *LocalProvider) Close() error {
	return nil
}
