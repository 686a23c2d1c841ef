package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dshills/protocolqa/internal/textutil"
)

// searchVector performs vector similarity search using cosine similarity.
// Only windows with positive similarity are returned, ordered by similarity
// descending and window id ascending.
func searchVector(ctx context.Context, q querier, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	if limit <= 0 || len(queryVector) == 0 {
		return []VectorResult{}, nil
	}
	// Use SQL-side distance when the driver registers vec_distance_cosine
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, q, queryVector, limit, filters)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, q, queryVector, limit, filters)
}

// searchVectorOptimized computes distances in the database layer
func searchVectorOptimized(ctx context.Context, q querier, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	queryVectorBlob := serializeVector(queryVector)

	// vec_distance_cosine returns distance (lower is better)
	query := `
		SELECT w.id, 1.0 - vec_distance_cosine(e.vector, ?) AS similarity
		FROM windows w
		INNER JOIN embeddings e ON e.window_id = w.id
		INNER JOIN chunks c ON c.id = w.chunk_id
		WHERE e.dimension = ?
	`
	args := []interface{}{queryVectorBlob, len(queryVector)}
	query, args = applyFilters(query, args, filters)

	minScore := 0.0
	if filters != nil && filters.MinRelevance > 0 {
		minScore = filters.MinRelevance
	}
	query = "SELECT id, similarity FROM (" + query + ") WHERE similarity > 0 AND similarity >= ? ORDER BY similarity DESC, id ASC LIMIT ?"
	args = append(args, minScore, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var result VectorResult
		if err := rows.Scan(&result.WindowID, &result.SimilarityScore); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// searchVectorFallback scores every stored embedding in Go
func searchVectorFallback(ctx context.Context, q querier, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	query := `
		SELECT w.id, e.vector
		FROM windows w
		INNER JOIN embeddings e ON e.window_id = w.id
		INNER JOIN chunks c ON c.id = w.chunk_id
		WHERE 1 = 1
	`
	query, args := applyFilters(query, nil, filters)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, queryVector, filters)
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	return buildVectorResults(candidates, limit), nil
}

// searchText performs BM25 full-text search using FTS5. A query with no
// searchable terms yields no results.
func searchText(ctx context.Context, q querier, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	match := buildFTSQuery(query)
	if match == "" || limit <= 0 {
		return []TextResult{}, nil
	}

	// Title matches weigh double
	sqlQuery := `
		SELECT w.id, bm25(windows_fts, 2.0, 1.0) AS score
		FROM windows_fts
		INNER JOIN windows w ON w.id = windows_fts.rowid
		INNER JOIN chunks c ON c.id = w.chunk_id
		WHERE windows_fts MATCH ?
	`
	args := []interface{}{match}
	sqlQuery, args = applyFilters(sqlQuery, args, filters)

	// bm25() is lower-is-better
	sqlQuery += " ORDER BY score ASC, w.id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTextResults(rows)
}

// applyFilters adds WHERE clause filters shared by both searches
func applyFilters(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	if filters.PathPrefix != "" {
		query += " AND (c.path = ? OR c.path LIKE ? || '.%')"
		args = append(args, filters.PathPrefix, filters.PathPrefix)
	}

	if filters.TablesOnly {
		query += " AND w.is_table = 1"
	}

	return query, args
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32, filters *SearchFilters) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)

	for rows.Next() {
		var windowID int64
		var vectorBlob []byte
		if err := rows.Scan(&windowID, &vectorBlob); err != nil {
			return nil, err
		}

		vector := deserializeVector(vectorBlob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}

		similarity := cosineSimilarity(queryVector, vector)
		if similarity <= 0 {
			continue
		}
		if filters != nil && filters.MinRelevance > 0 && similarity < filters.MinRelevance {
			continue
		}

		candidates = append(candidates, candidate{windowID: windowID, score: similarity})
	}

	return candidates, rows.Err()
}

// buildVectorResults creates VectorResult slice from sorted candidates
func buildVectorResults(candidates []candidate, limit int) []VectorResult {
	if limit > len(candidates) {
		limit = len(candidates)
	}

	results := make([]VectorResult, limit)
	for i := 0; i < limit; i++ {
		results[i] = VectorResult{
			WindowID:        candidates[i].windowID,
			SimilarityScore: candidates[i].score,
		}
	}
	return results
}

// collectTextResults negates bm25 so higher scores are better
func collectTextResults(rows *sql.Rows) ([]TextResult, error) {
	results := make([]TextResult, 0)

	for rows.Next() {
		var result TextResult
		if err := rows.Scan(&result.WindowID, &result.BM25Score); err != nil {
			return nil, err
		}
		result.BM25Score = -result.BM25Score
		results = append(results, result)
	}

	return results, rows.Err()
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// cosineDistanceBlobs is the SQL function body behind vec_distance_cosine
func cosineDistanceBlobs(a, b []byte) float64 {
	if len(a) != len(b) {
		return 2
	}
	return 1 - cosineSimilarity(deserializeVector(a), deserializeVector(b))
}

// candidate represents a window with its similarity score
type candidate struct {
	windowID int64
	score    float64
}

// sortCandidates orders by score descending, then window id ascending
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].windowID < candidates[j].windowID
	})
}

// buildFTSQuery turns free text into an FTS5 OR-query of quoted terms.
// Quoting every term neutralizes FTS5 operators in user input.
func buildFTSQuery(query string) string {
	terms := textutil.Terms(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, term := range terms {
		quoted[i] = `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// SerializeVector is an exported helper for callers storing embeddings
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for callers reading embeddings
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
