package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNewLocalProvider(t *testing.T) *LocalProvider {
	t.Helper()
	p, err := NewLocalProvider(Config{}, NewCache(100))
	require.NoError(t, err)
	return p
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestLocalProvider_Deterministic(t *testing.T) {
	ctx := context.Background()
	a, err := mustNewLocalProvider(t).GenerateEmbedding(ctx, EmbeddingRequest{Text: "Inclusion criteria for adults"})
	require.NoError(t, err)
	b, err := mustNewLocalProvider(t).GenerateEmbedding(ctx, EmbeddingRequest{Text: "Inclusion criteria for adults"})
	require.NoError(t, err)

	assert.Equal(t, a.Vector, b.Vector)
	assert.Len(t, a.Vector, LocalDimension)
	assert.InDelta(t, 1.0, math.Sqrt(dot(a.Vector, a.Vector)), 1e-5)
}

func TestLocalProvider_SharedTermsAreCloser(t *testing.T) {
	ctx := context.Background()
	p := mustNewLocalProvider(t)

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{
		"What are the inclusion criteria?",
		"STUDY POPULATION: Inclusion Criteria\nAdults aged 18 to 65.",
		"SCHEDULE: Visits\nScreening visit on day 1.",
	}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 3)

	q := resp.Embeddings[0].Vector
	assert.Greater(t, dot(q, resp.Embeddings[1].Vector), dot(q, resp.Embeddings[2].Vector))
}

func TestLocalProvider_Caches(t *testing.T) {
	p := mustNewLocalProvider(t)
	_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "visit schedule"})
	require.NoError(t, err)
	assert.Equal(t, 1, p.cache.Size())
}

func TestLocalProvider_CustomDimension(t *testing.T) {
	p, err := NewLocalProvider(Config{Dimension: 64}, nil)
	require.NoError(t, err)
	emb, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "endpoints"})
	require.NoError(t, err)
	assert.Len(t, emb.Vector, 64)
	assert.Equal(t, 64, p.Dimension())
}

func TestLocalProvider_RejectsOtherModels(t *testing.T) {
	_, err := NewLocalProvider(Config{Model: "minilm"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestLocalProvider_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mustNewLocalProvider(t).GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"a"}})
	assert.ErrorIs(t, err, context.Canceled)
}
