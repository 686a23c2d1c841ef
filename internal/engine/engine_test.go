package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/protocolqa/internal/composer"
	"github.com/dshills/protocolqa/internal/embedder"
	"github.com/dshills/protocolqa/internal/extractor"
	"github.com/dshills/protocolqa/internal/indexer"
	"github.com/dshills/protocolqa/internal/searcher"
	"github.com/dshills/protocolqa/internal/windower"
	"github.com/dshills/protocolqa/pkg/types"
)

const sampleProtocol = `1 INTRODUCTION
1.1 Background
Type 2 diabetes affects millions of adults worldwide.

2 OBJECTIVES
2.1 Primary Objective
To evaluate the change in HbA1c from baseline to week 24.

3 STUDY POPULATION
3.1 Inclusion Criteria
Adults aged 18 to 65 years with type 2 diabetes.
3.2 Exclusion Criteria
Pregnant or breastfeeding women. Prior insulin therapy within 90 days.
`

// lexicalOnlyEmbedder keeps dense search empty so retrieval is decided by
// keyword matches alone
type lexicalOnlyEmbedder struct{}

func (lexicalOnlyEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	v := []float32{-1, 0}
	if strings.Contains(req.Text, "\n") {
		v = []float32{1, 0}
	}
	return &embedder.Embedding{Vector: v, Dimension: 2}, nil
}

func (e lexicalOnlyEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	out := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		out[i], _ = e.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: out}, nil
}

func (lexicalOnlyEmbedder) Dimension() int   { return 2 }
func (lexicalOnlyEmbedder) Provider() string { return "test" }
func (lexicalOnlyEmbedder) Model() string    { return "lexical-only" }
func (lexicalOnlyEmbedder) Close() error     { return nil }

// switchableEmbedder fails every batch while fail is set
type switchableEmbedder struct {
	lexicalOnlyEmbedder
	fail atomic.Bool
}

func (e *switchableEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	if e.fail.Load() {
		return nil, errors.New("embedding backend unavailable")
	}
	return e.lexicalOnlyEmbedder.GenerateBatch(ctx, req)
}

// scriptedGenerator answers by prompt kind
type scriptedGenerator struct {
	mu         sync.Mutex
	route      string
	answer     string
	answerErr  error
	extraction string
	calls      map[string]int
	prompts    map[string]string
}

func newScriptedGenerator(route string) *scriptedGenerator {
	return &scriptedGenerator{
		route:   route,
		answer:  "Adults aged 18 to 65 years.",
		calls:   map[string]int{},
		prompts: map[string]string{},
	}
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	kind := "extract"
	switch {
	case strings.Contains(prompt, "routing assistant"):
		kind = "route"
	case strings.Contains(prompt, "Use ONLY the context below"):
		kind = "answer"
	}
	g.calls[kind]++
	g.prompts[kind] = prompt

	switch kind {
	case "route":
		return g.route, nil
	case "answer":
		return g.answer, g.answerErr
	default:
		return g.extraction, nil
	}
}

func newEngine(t *testing.T, gen *scriptedGenerator, text string) *Engine {
	t.Helper()
	e, err := New(Deps{Indexer: indexer.New(lexicalOnlyEmbedder{}, nil, nil), Generator: gen}, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	if text != "" {
		_, err = e.Ingest(context.Background(), indexer.Source{Name: "protocol.txt", Text: text}, indexer.Options{})
		require.NoError(t, err)
	}
	return e
}

func TestAsk_RetrievalAnswer(t *testing.T) {
	gen := newScriptedGenerator(`{"route": "rag", "reason": "general question", "top_k": 3}`)
	e := newEngine(t, gen, sampleProtocol)

	resp, err := e.Ask(context.Background(), "Which adults meet the inclusion criteria?")
	require.NoError(t, err)

	assert.Equal(t, "rag", resp.Routing.Route)
	assert.Equal(t, 3, resp.Routing.TopK)
	assert.Equal(t, "Adults aged 18 to 65 years.", resp.Answer)
	assert.False(t, resp.NotFound)
	require.NotEmpty(t, resp.Retrieved)
	assert.LessOrEqual(t, len(resp.Retrieved), 3)
	assert.Equal(t, "3.1", resp.Retrieved[0].ChunkPath)
	assert.Equal(t, "STUDY POPULATION: Inclusion Criteria", resp.Retrieved[0].Title)

	assert.Contains(t, gen.prompts["answer"], "[STUDY POPULATION: Inclusion Criteria]")
	assert.Equal(t, 1, gen.calls["route"])
}

func TestAsk_NoHitsSkipsGeneration(t *testing.T) {
	gen := newScriptedGenerator(`{"route": "rag", "reason": "general", "top_k": 5}`)
	e := newEngine(t, gen, sampleProtocol)

	resp, err := e.Ask(context.Background(), "pharmacokinetics")
	require.NoError(t, err)
	assert.True(t, resp.NotFound)
	assert.Equal(t, composer.NotFoundText, resp.Answer)
	assert.Empty(t, resp.Retrieved)
	assert.NotNil(t, resp.Retrieved)
	assert.Zero(t, gen.calls["answer"])
}

func TestAsk_GenerationFailureKeepsHits(t *testing.T) {
	gen := newScriptedGenerator(`{"route": "rag", "reason": "general", "top_k": 5}`)
	gen.answerErr = errors.New("backend down")
	e := newEngine(t, gen, sampleProtocol)

	resp, err := e.Ask(context.Background(), "insulin therapy")
	assert.ErrorIs(t, err, composer.ErrGenerationUnavailable)
	require.NotNil(t, resp)
	require.NotEmpty(t, resp.Retrieved)
	assert.Equal(t, "3.2", resp.Retrieved[0].ChunkPath)
}

func TestAsk_MalformedRouteDefaultsToRetrieval(t *testing.T) {
	gen := newScriptedGenerator("I am not sure which tool to use.")
	e := newEngine(t, gen, sampleProtocol)

	resp, err := e.Ask(context.Background(), "insulin therapy")
	require.NoError(t, err)
	assert.Equal(t, "rag", resp.Routing.Route)
	assert.True(t, resp.Routing.Defaulted)
	assert.Equal(t, types.DefaultTopK, resp.Routing.TopK)
	assert.Equal(t, 1, gen.calls["answer"])
	assert.Zero(t, gen.calls["extract"])
}

func TestAsk_Extraction(t *testing.T) {
	gen := newScriptedGenerator(`{"route": "eligibility", "reason": "criteria", "top_k": 5}`)
	gen.extraction = `{"inclusion": ["Adults aged 18 to 65 years with type 2 diabetes."], "exclusion": ["Pregnant or breastfeeding women."]}`
	e := newEngine(t, gen, sampleProtocol)

	resp, err := e.Ask(context.Background(), "List the inclusion and exclusion criteria")
	require.NoError(t, err)

	assert.Equal(t, "eligibility", resp.Routing.Route)
	elig, ok := resp.Data.(*extractor.Eligibility)
	require.True(t, ok)
	assert.Equal(t, []string{"Adults aged 18 to 65 years with type 2 diabetes."}, elig.Inclusion)
	assert.Empty(t, resp.Answer)

	require.NotEmpty(t, resp.Sections)
	assert.LessOrEqual(t, len(resp.Sections), 2)
	seen := map[string]bool{}
	for _, s := range resp.Sections {
		assert.False(t, seen[s.Path], "sections are distinct")
		seen[s.Path] = true
		assert.True(t, strings.HasPrefix(s.Path, "3."), s.Path)
	}

	prompt := gen.prompts["extract"]
	assert.Contains(t, prompt, "Section ID: 3.")
	assert.Contains(t, prompt, "Section Path: STUDY POPULATION: ")
	assert.Zero(t, gen.calls["answer"])
}

func TestAsk_ExtractionSchemaViolation(t *testing.T) {
	gen := newScriptedGenerator(`{"route": "eligibility", "reason": "criteria", "top_k": 5}`)
	gen.extraction = `{"inclusion": "Adults"}`
	e := newEngine(t, gen, sampleProtocol)

	resp, err := e.Ask(context.Background(), "What are the inclusion criteria?")
	assert.ErrorIs(t, err, extractor.ErrSchemaViolation)
	require.NotNil(t, resp)
	assert.Nil(t, resp.Data)
	assert.NotEmpty(t, resp.Sections)
}

func TestAsk_ExtractionWithoutContext(t *testing.T) {
	gen := newScriptedGenerator(`{"route": "eligibility", "reason": "criteria", "top_k": 5}`)
	e := newEngine(t, gen, "1 INTRODUCTION\n1.1 Background\nZebras graze on savannah grass.\n")

	resp, err := e.Ask(context.Background(), "Who is eligible?")
	require.NoError(t, err)
	assert.True(t, resp.NotFound)
	assert.Nil(t, resp.Data)
	assert.Zero(t, gen.calls["extract"])
}

func TestAsk_Errors(t *testing.T) {
	gen := newScriptedGenerator(`{"route": "rag", "top_k": 5}`)
	e := newEngine(t, gen, "")

	_, err := e.Ask(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrNoIndex)
	assert.Zero(t, gen.calls["route"])

	_, err = e.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, searcher.ErrEmptyQuery)
}

func TestSearchAndStatus(t *testing.T) {
	gen := newScriptedGenerator(`{"route": "rag", "top_k": 5}`)
	e := newEngine(t, gen, "")
	ctx := context.Background()

	st, err := e.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Indexed)

	_, _, err = e.Search(ctx, searcher.SearchRequest{Query: "insulin"})
	assert.ErrorIs(t, err, ErrNoIndex)

	_, err = e.Ingest(ctx, indexer.Source{Name: "p.txt", Text: sampleProtocol}, indexer.Options{})
	require.NoError(t, err)

	results, _, err := e.Search(ctx, searcher.SearchRequest{Query: "insulin", Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "3.2", results[0].ChunkPath)
	assert.InDelta(t, 1.0/61, results[0].Score, 1e-12)

	st, err = e.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Indexed)
	assert.Equal(t, 4, st.Chunks)
	assert.Equal(t, 4, st.Windows)
	assert.Equal(t, "p.txt", st.Manifest.SourceName)

	// Re-ingesting swaps the served index
	_, err = e.Ingest(ctx, indexer.Source{Name: "q.txt", Text: "1 SUMMARY\n1.1 Design\nOpen label.\n"}, indexer.Options{})
	require.NoError(t, err)
	st, err = e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Windows)
	assert.Equal(t, "q.txt", st.Manifest.SourceName)
}

func TestIngest_RebuildServedBundle(t *testing.T) {
	gen := newScriptedGenerator(`{"route": "rag", "top_k": 5}`)
	e := newEngine(t, gen, "")
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "bundle")

	_, err := e.Ingest(ctx, indexer.Source{Name: "p.txt", Text: sampleProtocol}, indexer.Options{Dir: dir, UseExisting: true})
	require.NoError(t, err)

	// The marker exists, so this loads rather than rebuilds
	m, err := e.Ingest(ctx, indexer.Source{Name: "q.txt", Text: "1 SUMMARY\n1.1 Design\nOpen label.\n"}, indexer.Options{Dir: dir, UseExisting: true})
	require.NoError(t, err)
	assert.Equal(t, "p.txt", m.SourceName)

	m, err = e.Ingest(ctx, indexer.Source{Name: "q.txt", Text: "1 SUMMARY\n1.1 Design\nOpen label.\n"}, indexer.Options{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "q.txt", m.SourceName)

	results, _, err := e.Search(ctx, searcher.SearchRequest{Query: "open label", Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1.1", results[0].ChunkPath)

	// The rebuilt bundle survives a fresh load
	_, err = e.Load(ctx, dir)
	require.NoError(t, err)
	st, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Windows)
}

func TestIngest_FailedRebuildKeepsServedBundle(t *testing.T) {
	emb := &switchableEmbedder{}
	e, err := New(Deps{Indexer: indexer.New(emb, nil, nil), Generator: newScriptedGenerator("")}, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "bundle")

	_, err = e.Ingest(ctx, indexer.Source{Name: "p.txt", Text: sampleProtocol}, indexer.Options{Dir: dir})
	require.NoError(t, err)

	rebuild := indexer.Source{Name: "q.txt", Text: "1 SUMMARY\n1.1 Design\nOpen label.\n"}
	emb.fail.Store(true)
	_, err = e.Ingest(ctx, rebuild, indexer.Options{Dir: dir})
	require.Error(t, err)
	_, err = e.Ingest(ctx, rebuild, indexer.Options{Dir: dir, Windowing: windower.Config{MaxTokens: 10, Overlap: 10}})
	require.ErrorIs(t, err, windower.ErrInvalidConfig)

	assert.True(t, indexer.ManifestExists(dir))
	st, err := e.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Indexed)
	assert.Equal(t, "p.txt", st.Manifest.SourceName)

	results, _, err := e.Search(ctx, searcher.SearchRequest{Query: "insulin therapy", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "3.2", results[0].ChunkPath)

	// Once the embedder recovers, the rebuild replaces the bundle
	emb.fail.Store(false)
	m, err := e.Ingest(ctx, rebuild, indexer.Options{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "q.txt", m.SourceName)
}

func TestAsk_RoutesThroughClassifier(t *testing.T) {
	classifier := newScriptedGenerator(`{"route": "rag", "reason": "general", "top_k": 3}`)
	gen := newScriptedGenerator(`{"route": "eligibility", "top_k": 3}`)
	e, err := New(Deps{
		Indexer:    indexer.New(lexicalOnlyEmbedder{}, nil, nil),
		Generator:  gen,
		Classifier: classifier,
	}, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	_, err = e.Ingest(context.Background(), indexer.Source{Name: "p.txt", Text: sampleProtocol}, indexer.Options{})
	require.NoError(t, err)

	resp, err := e.Ask(context.Background(), "What are the inclusion criteria?")
	require.NoError(t, err)
	assert.Equal(t, "rag", resp.Routing.Route)
	assert.Equal(t, 1, classifier.calls["route"])
	assert.Equal(t, 0, gen.calls["route"])
	assert.Equal(t, 1, gen.calls["answer"])
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{Generator: newScriptedGenerator("")}, DefaultConfig())
	assert.Error(t, err)
	_, err = New(Deps{Indexer: indexer.New(lexicalOnlyEmbedder{}, nil, nil)}, DefaultConfig())
	assert.Error(t, err)
}
