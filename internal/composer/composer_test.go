package composer

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/protocolqa/internal/generator"
	"github.com/dshills/protocolqa/internal/metrics"
	"github.com/dshills/protocolqa/pkg/types"
)

type mockGenerator struct {
	calls      atomic.Int32
	lastPrompt string
	lastTemp   float64
	reply      string
	err        error
	block      bool
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	m.calls.Add(1)
	m.lastPrompt = prompt
	m.lastTemp = temperature
	if m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return m.reply, m.err
}

func hit(id int64, title, text string) types.RetrievalHit {
	return types.RetrievalHit{
		WindowID:  id,
		Rank:      int(id),
		DenseRank: int(id),
		Window:    &types.Window{ID: id, Title: title, Text: text},
	}
}

func TestAnswer_NoHitsSkipsGeneration(t *testing.T) {
	gen := &mockGenerator{reply: "should not be used"}
	c := New(gen, DefaultConfig(), nil, nil)

	ans, err := c.Answer(context.Background(), "What is the dose?", nil)
	require.NoError(t, err)
	assert.True(t, ans.NotFound)
	assert.Equal(t, NotFoundText, ans.Text)
	assert.NotNil(t, ans.Hits)
	assert.Equal(t, int32(0), gen.calls.Load())
}

func TestAnswer_GroundedPrompt(t *testing.T) {
	gen := &mockGenerator{reply: "  Adults aged 18 to 65.\n"}
	c := New(gen, DefaultConfig(), nil, nil)
	hits := []types.RetrievalHit{
		hit(1, "STUDY POPULATION: Inclusion Criteria", "Adults aged 18 to 65."),
		hit(2, "STUDY POPULATION: Exclusion Criteria", "Pregnant women."),
	}

	ans, err := c.Answer(context.Background(), "Who can enroll?", hits)
	require.NoError(t, err)

	assert.Equal(t, "Adults aged 18 to 65.", ans.Text)
	assert.False(t, ans.NotFound)
	assert.Equal(t, 2, ans.Blocks)
	assert.Equal(t, "[STUDY POPULATION: Inclusion Criteria]\nAdults aged 18 to 65.\n\n[STUDY POPULATION: Exclusion Criteria]\nPregnant women.", ans.Context)
	assert.Contains(t, gen.lastPrompt, ans.Context)
	assert.Contains(t, gen.lastPrompt, "Question: Who can enroll?")
	assert.Contains(t, gen.lastPrompt, "Use ONLY the context below")
	assert.InDelta(t, 0.1, gen.lastTemp, 1e-9)
}

func TestBuildContext_Budget(t *testing.T) {
	a := hit(1, "A", strings.Repeat("a", 48)) // block is 52 chars
	b := hit(2, "B", strings.Repeat("b", 48))
	small := hit(3, "C", "c")

	ctx, n := BuildContext([]types.RetrievalHit{a, b}, 104)
	assert.Equal(t, 2, n)
	assert.Contains(t, ctx, "[B]")

	// The first block over budget stops accumulation even if a later one fits
	ctx, n = BuildContext([]types.RetrievalHit{a, b, small}, 103)
	assert.Equal(t, 1, n)
	assert.NotContains(t, ctx, "[B]")
	assert.NotContains(t, ctx, "[C]")

	_, n = BuildContext([]types.RetrievalHit{a}, 10)
	assert.Zero(t, n)
}

func TestBuildContext_CountsCharacters(t *testing.T) {
	// 6 runes, 9 bytes
	h := hit(1, "é", "éé")
	_, n := BuildContext([]types.RetrievalHit{h}, 6)
	assert.Equal(t, 1, n)
}

func TestAnswer_GenerationFailure(t *testing.T) {
	gen := &mockGenerator{err: generator.ErrUnavailable}
	m := metrics.New()
	c := New(gen, DefaultConfig(), m, nil)
	hits := []types.RetrievalHit{hit(1, "T", "text")}

	ans, err := c.Answer(context.Background(), "q", hits)
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
	assert.ErrorIs(t, err, generator.ErrUnavailable)
	require.NotNil(t, ans)
	assert.Equal(t, hits, ans.Hits)
	assert.Equal(t, "[T]\ntext", ans.Context)
	assert.Empty(t, ans.Text)
}

func TestAnswer_Timeout(t *testing.T) {
	gen := &mockGenerator{block: true}
	c := New(gen, Config{Timeout: 10 * time.Millisecond}, nil, nil)

	_, err := c.Answer(context.Background(), "q", []types.RetrievalHit{hit(1, "T", "text")})
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
