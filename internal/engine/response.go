package engine

import (
	"strings"
	"unicode/utf8"

	"github.com/dshills/protocolqa/internal/indexer"
	"github.com/dshills/protocolqa/internal/storage"
	"github.com/dshills/protocolqa/pkg/types"
)

// Routing is the wire form of a route decision
type Routing struct {
	Route     string `json:"route"`
	Reason    string `json:"reason"`
	TopK      int    `json:"top_k"`
	Defaulted bool   `json:"defaulted"`
}

// SearchResult is one retrieval hit as returned to callers
type SearchResult struct {
	ChunkPath string  `json:"chunk_path"`
	Title     string  `json:"title"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

// SectionRef names a section used as extraction context
type SectionRef struct {
	Path  string `json:"path"`
	Title string `json:"title"`
}

// Response is the answer to one question. Answer is set on the retrieval
// path, Data on the extraction path.
type Response struct {
	Question  string         `json:"question"`
	Routing   Routing        `json:"routing"`
	Answer    string         `json:"answer,omitempty"`
	Data      any            `json:"data,omitempty"`
	NotFound  bool           `json:"not_found"`
	Retrieved []SearchResult `json:"retrieved"`
	Sections  []SectionRef   `json:"sections,omitempty"`
}

// Status describes the index an Engine is serving
type Status struct {
	Indexed     bool                 `json:"indexed"`
	Dir         string               `json:"dir,omitempty"`
	Manifest    *indexer.Manifest    `json:"manifest,omitempty"`
	Chunks      int                  `json:"chunks"`
	Windows     int                  `json:"windows"`
	Tables      int                  `json:"tables"`
	Embeddings  int                  `json:"embeddings"`
	IndexSizeMB float64              `json:"index_size_mb"`
	Health      storage.HealthStatus `json:"health"`
}

func routingOf(d types.RouteDecision) Routing {
	return Routing{
		Route:     d.Intent.String(),
		Reason:    d.Reason,
		TopK:      d.TopK,
		Defaulted: d.Defaulted,
	}
}

func searchResults(hits []types.RetrievalHit) []SearchResult {
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, SearchResult{
			ChunkPath: h.Window.ChunkPath,
			Title:     h.Window.Title,
			Text:      h.Window.Text,
			Score:     h.Score,
		})
	}
	return out
}

const sectionRule = "================================================================"

// SectionBlock formats a chunk with its Section ID / Section Path banner
func SectionBlock(c *types.Chunk) string {
	id := c.Path
	if id == "" {
		id = types.FullDocumentTitle
	}
	return sectionRule + "\nSection ID: " + id + "\nSection Path: " + c.FullTitle + "\n" + sectionRule + "\n\n" + strings.TrimSpace(c.Content)
}

// SectionContext joins section blocks with blank lines while they fit in
// maxChars. The first block is always used, truncated if needed. It returns
// the context and the number of chunks used.
func SectionContext(chunks []*types.Chunk, maxChars int) (string, int) {
	var b strings.Builder
	used := 0
	total := 0
	for _, c := range chunks {
		block := SectionBlock(c)
		n := utf8.RuneCountInString(block)
		if used > 0 {
			n += 2
		}
		if total+n > maxChars {
			if used == 0 {
				b.WriteString(truncateRunes(block, maxChars))
				used = 1
			}
			break
		}
		if used > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block)
		total += n
		used++
	}
	return b.String(), used
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
