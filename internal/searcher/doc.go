// Package searcher implements hybrid retrieval over a protocol index,
// combining dense vector similarity with BM25 keyword matching.
//
// The searcher provides three search modes:
//   - Hybrid: dense + BM25 fused with Reciprocal Rank Fusion (default)
//   - Vector: dense similarity only
//   - Keyword: BM25 full-text search only
//
// # Basic Usage
//
//	s := searcher.NewSearcher(ix.Store, emb, searcher.DefaultConfig(), nil, logger)
//
//	hits, err := s.Retrieve(ctx, "What are the exclusion criteria?", 5)
//	if err != nil {
//	    return err
//	}
//	for _, hit := range hits {
//	    fmt.Printf("[%d] %s (score: %.4f)\n", hit.Rank, hit.Window.Title, hit.Score)
//	}
//
// # Fusion
//
// Both sources are searched with the requested limit. Each window scores
// sum(1 / (k + rank)) over the lists it appears in, with k = 60 by default.
// Ties keep the order in which windows were first seen, dense list first,
// so identical inputs always produce identical output. A window found only
// by keyword search still ranks.
//
// If one source fails the other still answers and a warning is logged.
// Search fails only when both do.
//
// # Caching
//
// Requests with UseCache set are memoized in an LRU keyed by query, mode,
// limit and filters. Cached responses are deep-copied on the way in and out.
package searcher
