package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dshills/protocolqa/internal/composer"
	"github.com/dshills/protocolqa/internal/extractor"
	"github.com/dshills/protocolqa/internal/generator"
	"github.com/dshills/protocolqa/internal/indexer"
	"github.com/dshills/protocolqa/internal/metrics"
	"github.com/dshills/protocolqa/internal/router"
	"github.com/dshills/protocolqa/internal/searcher"
	"github.com/dshills/protocolqa/internal/storage"
	"github.com/dshills/protocolqa/pkg/types"
)

// ErrNoIndex is returned when a question arrives before any protocol is indexed
var ErrNoIndex = errors.New("no protocol indexed")

// Config holds the per-query settings of an Engine
type Config struct {
	Search             searcher.Config  `yaml:"search"`
	Composer           composer.Config  `yaml:"composer"`
	Extractor          extractor.Config `yaml:"extractor"`
	ExtractionSections int              `yaml:"extraction_sections"`
	ExtractionMaxChars int              `yaml:"extraction_max_chars"`
}

// DefaultConfig returns the default engine settings
func DefaultConfig() Config {
	return Config{
		Search:             searcher.DefaultConfig(),
		Composer:           composer.DefaultConfig(),
		Extractor:          extractor.DefaultConfig(),
		ExtractionSections: 2,
		ExtractionMaxChars: 16000,
	}
}

// Deps are the collaborators an Engine is built from. Metrics and Logger
// may be nil. Classifier serves routing calls and must not retry (see
// router.ExecutorConfig); nil uses Generator.
type Deps struct {
	Indexer    *indexer.Indexer
	Generator  generator.Generator
	Classifier generator.Generator
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Engine answers questions about one indexed protocol. The index can be
// replaced while serving; queries hold a read lock for their duration.
type Engine struct {
	cfg       Config
	indexer   *indexer.Indexer
	router    *router.Router
	composer  *composer.Composer
	extractor *extractor.Service
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu       sync.RWMutex
	index    *indexer.Index
	searcher *searcher.Searcher
}

// New creates an Engine with no index loaded
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Indexer == nil {
		return nil, errors.New("engine: indexer is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("engine: generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = deps.Generator
	}
	if cfg.ExtractionSections <= 0 {
		cfg.ExtractionSections = DefaultConfig().ExtractionSections
	}
	if cfg.ExtractionMaxChars <= 0 {
		cfg.ExtractionMaxChars = DefaultConfig().ExtractionMaxChars
	}

	return &Engine{
		cfg:       cfg,
		indexer:   deps.Indexer,
		router:    router.New(classifier, deps.Metrics, logger),
		composer:  composer.New(deps.Generator, cfg.Composer, deps.Metrics, logger),
		extractor: extractor.New(deps.Generator, cfg.Extractor, deps.Metrics, logger),
		metrics:   deps.Metrics,
		logger:    logger,
	}, nil
}

// Ingest builds (or, with opts.UseExisting, loads) an index for src and
// swaps it in. The previous index is closed once no query holds it. A
// rebuild into the directory being served releases that index only when the
// build is about to replace its files; a build that fails earlier leaves it
// serving.
func (e *Engine) Ingest(ctx context.Context, src indexer.Source, opts indexer.Options) (*indexer.Manifest, error) {
	if opts.Dir != "" {
		dir, next := opts.Dir, opts.BeforeStore
		opts.BeforeStore = func() {
			e.release(dir)
			if next != nil {
				next()
			}
		}
	}

	ix, err := e.indexer.Open(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	e.swap(ix)
	return &ix.Manifest, nil
}

// Load opens the persisted bundle in dir and swaps it in
func (e *Engine) Load(ctx context.Context, dir string) (*indexer.Manifest, error) {
	ix, err := e.indexer.Load(ctx, dir)
	if err != nil {
		return nil, err
	}
	e.swap(ix)
	return &ix.Manifest, nil
}

func (e *Engine) swap(ix *indexer.Index) {
	s := searcher.NewSearcher(ix.Store, e.indexer.Embedder(), e.cfg.Search, e.metrics, e.logger)

	e.mu.Lock()
	old := e.index
	e.index = ix
	e.searcher = s
	e.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			e.logger.Warn("failed to close previous index", "error", err)
		}
	}
}

// release closes the current index when it is served from dir
func (e *Engine) release(dir string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index == nil || e.index.Dir == "" || filepath.Clean(e.index.Dir) != filepath.Clean(dir) {
		return
	}
	if err := e.index.Close(); err != nil {
		e.logger.Warn("failed to close index before rebuild", "dir", dir, "error", err)
	}
	e.index = nil
	e.searcher = nil
}

// Close releases the current index
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.index.Close()
	e.index = nil
	e.searcher = nil
	return err
}

// Ask routes question and answers it by retrieval and composition or by
// structured extraction. A generation failure on the retrieval path returns
// the Response with its hits alongside the error.
func (e *Engine) Ask(ctx context.Context, question string) (*Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, searcher.ErrEmptyQuery
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.index == nil {
		return nil, ErrNoIndex
	}

	decision := e.router.Route(ctx, question)
	e.metrics.IncQuestion(decision.Intent.String())
	e.logger.Info("question routed",
		"intent", decision.Intent.String(),
		"top_k", decision.TopK,
		"defaulted", decision.Defaulted,
	)

	resp := &Response{
		Question:  question,
		Routing:   routingOf(decision),
		Retrieved: []SearchResult{},
	}

	if !decision.Intent.IsExtraction() {
		return e.answer(ctx, resp, question, decision.TopK)
	}
	return e.extract(ctx, resp, decision)
}

func (e *Engine) answer(ctx context.Context, resp *Response, question string, topK int) (*Response, error) {
	hits, err := e.searcher.Retrieve(ctx, question, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	resp.Retrieved = searchResults(hits)

	ans, err := e.composer.Answer(ctx, question, hits)
	if ans != nil {
		resp.Answer = ans.Text
		resp.NotFound = ans.NotFound
	}
	if err != nil {
		return resp, err
	}
	return resp, nil
}

func (e *Engine) extract(ctx context.Context, resp *Response, decision types.RouteDecision) (*Response, error) {
	query, err := extractor.TargetQuery(decision.Intent)
	if err != nil {
		return nil, err
	}
	hits, err := e.searcher.Retrieve(ctx, query, decision.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	resp.Retrieved = searchResults(hits)

	chunks, err := e.selectChunks(ctx, hits)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		resp.NotFound = true
		resp.Answer = composer.NotFoundText
		return resp, nil
	}

	content, used := SectionContext(chunks, e.cfg.ExtractionMaxChars)
	for _, c := range chunks[:used] {
		resp.Sections = append(resp.Sections, SectionRef{Path: c.Path, Title: c.FullTitle})
	}

	res, err := e.extractor.Extract(ctx, decision.Intent, content)
	if err != nil {
		return resp, err
	}
	resp.Data = res.Data
	return resp, nil
}

// selectChunks returns the distinct chunks behind hits in rank order, at
// most ExtractionSections of them
func (e *Engine) selectChunks(ctx context.Context, hits []types.RetrievalHit) ([]*types.Chunk, error) {
	seen := make(map[int64]bool, len(hits))
	chunks := make([]*types.Chunk, 0, e.cfg.ExtractionSections)
	for _, hit := range hits {
		if len(chunks) == e.cfg.ExtractionSections {
			break
		}
		id := hit.Window.ChunkID
		if seen[id] {
			continue
		}
		seen[id] = true

		chunk, err := e.index.Store.GetChunk(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("dropping unresolved chunk", "chunk_id", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load chunk %d: %w", id, err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Search returns fused retrieval results without routing or generation
func (e *Engine) Search(ctx context.Context, req searcher.SearchRequest) ([]SearchResult, time.Duration, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.index == nil {
		return nil, 0, ErrNoIndex
	}

	resp, err := e.searcher.Search(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	return searchResults(resp.Hits), resp.Duration, nil
}

// Status describes the loaded index. It reports Indexed=false when none is.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.index == nil {
		return &Status{Indexed: false}, nil
	}

	st, err := e.index.Store.GetStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	m := e.index.Manifest
	return &Status{
		Indexed:     true,
		Dir:         e.index.Dir,
		Manifest:    &m,
		Chunks:      st.ChunksCount,
		Windows:     st.WindowsCount,
		Tables:      st.TablesCount,
		Embeddings:  st.EmbeddingsCount,
		IndexSizeMB: st.IndexSizeMB,
		Health:      st.Health,
	}, nil
}
