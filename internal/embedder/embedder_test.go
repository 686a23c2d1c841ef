package embedder

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lengthEmbedder returns a one-dimensional vector holding the text length.
// Later batches finish first to scramble completion order.
type lengthEmbedder struct {
	calls atomic.Int32
	dim   int
}

func (m *lengthEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	resp, err := m.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (m *lengthEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	n := m.calls.Add(1)
	time.Sleep(time.Duration(10-n%10) * time.Millisecond)
	out := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		vec := make([]float32, m.dim)
		if m.dim > 0 {
			vec[0] = float32(len(text))
		}
		out[i] = &Embedding{Vector: vec, Dimension: m.dim}
	}
	return &BatchEmbeddingResponse{Embeddings: out}, nil
}

func (m *lengthEmbedder) Dimension() int   { return 1 }
func (m *lengthEmbedder) Provider() string { return "test" }
func (m *lengthEmbedder) Model() string    { return "length" }
func (m *lengthEmbedder) Close() error     { return nil }

func TestComputeHash(t *testing.T) {
	assert.Equal(t, ComputeHash("a"), ComputeHash("a"))
	assert.NotEqual(t, ComputeHash("a"), ComputeHash("b"))
	assert.Len(t, ComputeHash(""), 64)
	assert.NotEqual(t, cacheKey("m1", "text"), cacheKey("m2", "text"))
}

func TestValidateRequest(t *testing.T) {
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{Text: ""}), ErrEmptyText)
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{Text: " \n"}), ErrEmptyText)
	assert.NoError(t, ValidateRequest(EmbeddingRequest{Text: "eligibility"}))
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr bool
	}{
		{"valid", []string{"a", "b"}, false},
		{"empty batch", nil, true},
		{"empty entry", []string{"a", ""}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(BatchEmbeddingRequest{Texts: tt.texts})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCache(t *testing.T) {
	cache := NewCache(2)
	cache.Set("a", &Embedding{Vector: []float32{1, 2}})

	got, ok := cache.Get("a")
	require.True(t, ok)
	got.Vector[0] = 99

	again, _ := cache.Get("a")
	assert.Equal(t, float32(1), again.Vector[0], "cached vector must not be mutated through a copy")

	cache.Set("b", &Embedding{})
	cache.Set("c", &Embedding{})
	assert.Equal(t, 2, cache.Size())
	_, ok = cache.Get("a")
	assert.False(t, ok)

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
}

func TestEmbedAll_PreservesInputOrder(t *testing.T) {
	texts := make([]string, 23)
	for i := range texts {
		texts[i] = fmt.Sprintf("%*s", i+1, "x")
	}

	for _, workers := range []int{1, 4, 16} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			vectors, err := EmbedAll(context.Background(), &lengthEmbedder{dim: 1}, texts, 3, workers)
			require.NoError(t, err)
			require.Len(t, vectors, len(texts))
			for i, v := range vectors {
				assert.Equal(t, float32(i+1), v[0])
			}
		})
	}
}

func TestEmbedAll_DimensionMismatch(t *testing.T) {
	_, err := EmbedAll(context.Background(), &lengthEmbedder{dim: 2}, []string{"a"}, 1, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmbedAll_Empty(t *testing.T) {
	vectors, err := EmbedAll(context.Background(), &lengthEmbedder{dim: 1}, nil, 3, 2)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestIdentity(t *testing.T) {
	l, err := NewLocalProvider(Config{}, nil)
	require.NoError(t, err)
	id := IdentityOf(l)
	assert.Equal(t, Identity{Provider: ProviderLocal, Model: DefaultLocalModel, Dimension: LocalDimension}, id)
	assert.Equal(t, "local/hashing-v1@384", id.String())
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}
