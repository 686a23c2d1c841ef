package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/protocolqa/internal/embedder"
	"github.com/dshills/protocolqa/internal/metrics"
	"github.com/dshills/protocolqa/internal/storage"
	"github.com/dshills/protocolqa/pkg/types"
)

// ErrEmptyQuery is returned for blank queries
var ErrEmptyQuery = errors.New("query cannot be empty")

// MaxLimit caps the number of hits per search
const MaxLimit = 100

// SearchMode defines how search is performed
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"  // Vector + BM25 with RRF
	SearchModeVector  SearchMode = "vector"  // Vector similarity only
	SearchModeKeyword SearchMode = "keyword" // BM25 text search only
)

// ParseSearchMode maps a wire value to a SearchMode, defaulting to hybrid
func ParseSearchMode(s string) (SearchMode, error) {
	switch SearchMode(strings.ToLower(s)) {
	case "", SearchModeHybrid:
		return SearchModeHybrid, nil
	case SearchModeVector:
		return SearchModeVector, nil
	case SearchModeKeyword:
		return SearchModeKeyword, nil
	default:
		return "", fmt.Errorf("unsupported search mode: %s", s)
	}
}

// Config holds retrieval settings
type Config struct {
	RRFConstant float64       `yaml:"rrf_k"`
	CacheSize   int           `yaml:"cache_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns the default retrieval settings
func DefaultConfig() Config {
	return Config{
		RRFConstant: DefaultRRFConstant,
		CacheSize:   1000,
		CacheTTL:    time.Hour,
	}
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query    string
	Limit    int
	Mode     SearchMode
	Filters  *storage.SearchFilters
	UseCache bool // Whether to use query cache
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Hits          []types.RetrievalHit
	TotalResults  int
	SearchMode    SearchMode
	Duration      time.Duration
	CacheHit      bool
	VectorResults int
	TextResults   int
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher coordinates dense and lexical search over one index
type Searcher struct {
	storage  storage.Storage
	embedder embedder.Embedder
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.RWMutex
}

// NewSearcher creates a new Searcher instance. m and logger may be nil.
func NewSearcher(store storage.Storage, emb embedder.Embedder, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Searcher {
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = DefaultRRFConstant
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[[32]byte, *cacheEntry](cfg.CacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		storage:  store,
		embedder: emb,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		cache:    cache,
	}
}

// Retrieve runs hybrid search and returns at most topK fused hits, each
// resolved to its window. topK <= 0 uses types.DefaultTopK.
func (s *Searcher) Retrieve(ctx context.Context, query string, topK int) ([]types.RetrievalHit, error) {
	resp, err := s.Search(ctx, SearchRequest{Query: query, Limit: topK, Mode: SearchModeHybrid})
	if err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if s.embedder == nil {
		return nil, fmt.Errorf("embedder not initialized")
	}

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	if req.UseCache {
		if cached := s.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	var response *SearchResponse
	var err error

	switch req.Mode {
	case SearchModeHybrid:
		response, err = s.hybridSearch(ctx, req)
	case SearchModeVector:
		response, err = s.vectorSearch(ctx, req)
	case SearchModeKeyword:
		response, err = s.keywordSearch(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported search mode: %s", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	response.Duration = time.Since(startTime)
	response.SearchMode = req.Mode
	s.metrics.ObserveRetrieval(response.Duration)

	if req.UseCache && len(response.Hits) > 0 {
		s.storeInCache(req, response)
	}

	return response, nil
}

// searchResult holds results from concurrent search operations
type searchResult struct {
	vectorResults []storage.VectorResult
	textResults   []storage.TextResult
	err           error
}

// runVectorSearch executes vector search in a goroutine
func (s *Searcher) runVectorSearch(ctx context.Context, req SearchRequest, resultChan chan<- searchResult) {
	var res searchResult
	res.vectorResults, res.err = s.denseSearch(ctx, req)
	resultChan <- res
}

// runTextSearch executes text search in a goroutine
func (s *Searcher) runTextSearch(ctx context.Context, req SearchRequest, resultChan chan<- searchResult) {
	var res searchResult
	res.textResults, res.err = s.storage.SearchText(ctx, req.Query, req.Limit, req.Filters)
	resultChan <- res
}

// denseSearch embeds the query and searches the vector index
func (s *Searcher) denseSearch(ctx context.Context, req SearchRequest) ([]storage.VectorResult, error) {
	embedding, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: req.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	return s.storage.SearchVector(ctx, embedding.Vector, req.Limit, req.Filters)
}

// hybridSearch runs both searches concurrently and fuses them with RRF
func (s *Searcher) hybridSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	vectorChan := make(chan searchResult, 1)
	textChan := make(chan searchResult, 1)

	go s.runVectorSearch(ctx, req, vectorChan)
	go s.runTextSearch(ctx, req, textChan)

	// Wait for both searches
	var vectorRes, textRes searchResult
	var vectorDone, textDone bool
	for !vectorDone || !textDone {
		select {
		case vectorRes = <-vectorChan:
			vectorDone = true
		case textRes = <-textChan:
			textDone = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// One source may fail; the other still answers
	if vectorRes.err != nil && textRes.err != nil {
		return nil, fmt.Errorf("both searches failed: vector=%w, text=%v", vectorRes.err, textRes.err)
	}
	if vectorRes.err != nil {
		s.logger.Warn("dense search failed, using lexical only", "error", vectorRes.err)
	}
	if textRes.err != nil {
		s.logger.Warn("lexical search failed, using dense only", "error", textRes.err)
	}

	dense := RankedList{Source: SourceDense, IDs: make([]int64, len(vectorRes.vectorResults))}
	for i, vr := range vectorRes.vectorResults {
		dense.IDs[i] = vr.WindowID
	}
	lexical := RankedList{Source: SourceLexical, IDs: make([]int64, len(textRes.textResults))}
	for i, tr := range textRes.textResults {
		lexical.IDs[i] = tr.WindowID
	}

	hits, err := s.resolve(ctx, FuseRRF(s.cfg.RRFConstant, req.Limit, dense, lexical))
	if err != nil {
		return nil, err
	}

	return &SearchResponse{
		Hits:          hits,
		TotalResults:  len(hits),
		VectorResults: len(vectorRes.vectorResults),
		TextResults:   len(textRes.textResults),
	}, nil
}

// vectorSearch performs only vector similarity search
func (s *Searcher) vectorSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	vectorResults, err := s.denseSearch(ctx, req)
	if err != nil {
		return nil, err
	}

	fused := make([]Fused, len(vectorResults))
	for i, vr := range vectorResults {
		fused[i] = Fused{WindowID: vr.WindowID, Score: vr.SimilarityScore, Ranks: map[Source]int{SourceDense: i + 1}}
	}

	hits, err := s.resolve(ctx, fused)
	if err != nil {
		return nil, err
	}

	return &SearchResponse{
		Hits:          hits,
		TotalResults:  len(hits),
		VectorResults: len(vectorResults),
	}, nil
}

// keywordSearch performs only BM25 text search
func (s *Searcher) keywordSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	textResults, err := s.storage.SearchText(ctx, req.Query, req.Limit, req.Filters)
	if err != nil {
		return nil, err
	}

	fused := make([]Fused, len(textResults))
	for i, tr := range textResults {
		fused[i] = Fused{WindowID: tr.WindowID, Score: tr.BM25Score, Ranks: map[Source]int{SourceLexical: i + 1}}
	}

	hits, err := s.resolve(ctx, fused)
	if err != nil {
		return nil, err
	}

	return &SearchResponse{
		Hits:         hits,
		TotalResults: len(hits),
		TextResults:  len(textResults),
	}, nil
}

// resolve loads the windows behind fused ids in one query. Ids that no
// longer resolve are dropped; hits are ranked 1..n in fused order.
func (s *Searcher) resolve(ctx context.Context, fused []Fused) ([]types.RetrievalHit, error) {
	ids := make([]int64, len(fused))
	for i, f := range fused {
		ids[i] = f.WindowID
	}

	windows, err := s.storage.GetWindows(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve windows: %w", err)
	}

	hits := make([]types.RetrievalHit, 0, len(fused))
	for _, f := range fused {
		w, ok := windows[f.WindowID]
		if !ok {
			s.logger.Warn("dropping unresolved window", "window_id", f.WindowID)
			continue
		}
		hits = append(hits, types.RetrievalHit{
			WindowID:    f.WindowID,
			Rank:        len(hits) + 1,
			Score:       f.Score,
			DenseRank:   f.Ranks[SourceDense],
			LexicalRank: f.Ranks[SourceLexical],
			Window:      w,
		})
	}
	return hits, nil
}

// validateRequest ensures search request is valid
func (s *Searcher) validateRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return ErrEmptyQuery
	}

	if req.Limit <= 0 {
		req.Limit = types.DefaultTopK
	}

	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	if req.Mode == "" {
		req.Mode = SearchModeHybrid
	}

	return nil
}

// checkCache returns a copy of a live cached response, or nil
func (s *Searcher) checkCache(req SearchRequest) *SearchResponse {
	hash := computeQueryHash(req)
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()

	return response
}

// storeInCache saves a copy of response
func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(s.cfg.CacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}

	dst := *src
	dst.Hits = make([]types.RetrievalHit, len(src.Hits))
	for i, hit := range src.Hits {
		dst.Hits[i] = hit
		// Window holds only value fields
		if hit.Window != nil {
			w := *hit.Window
			dst.Hits[i].Window = &w
		}
	}
	return &dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	fmt.Fprintf(&data, "%d", req.Limit)

	if req.Filters != nil {
		data.WriteString("|filters:")
		data.WriteString(req.Filters.PathPrefix)
		fmt.Fprintf(&data, "|%t|%.4f", req.Filters.TablesOnly, req.Filters.MinRelevance)
	}

	return sha256.Sum256([]byte(data.String()))
}

// CacheLen reports the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}
