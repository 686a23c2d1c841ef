package segmenter

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/dshills/protocolqa/pkg/types"
)

// headerPattern matches a whole line made of a dotted numeric path and a title
// that starts with an upper-case letter. Only horizontal whitespace is allowed
// between the two so a header never spans lines.
var headerPattern = regexp.MustCompile(`(?m)^(\d+(?:\.\d+)*)[ \t]+([A-Z][A-Za-z0-9 \t\-:()/,&']*?)[ \t]*\r?$`)

// Result holds the output of segmenting one document
type Result struct {
	Headers  []types.HeaderNode
	Chunks   []types.Chunk
	Fallback bool // True when no headers were found
}

// LeafCount returns the number of leaf headers, which equals len(Chunks)
// unless the document fell back to a single chunk.
func (r *Result) LeafCount() int {
	if r.Fallback {
		return 0
	}
	return len(r.Chunks)
}

// Segmenter splits protocol text into leaf-section chunks
type Segmenter struct{}

// New creates a new Segmenter instance
func New() *Segmenter {
	return &Segmenter{}
}

// SegmentFile reads a UTF-8 text file and segments it
func (s *Segmenter) SegmentFile(path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return s.Segment(string(content)), nil
}

// Segment detects numbered headers and emits one chunk per leaf header.
// A document with no headers yields a single full_document chunk.
func (s *Segmenter) Segment(text string) *Result {
	headers := ParseHeaders(text)
	if len(headers) == 0 {
		return &Result{
			Chunks:   []types.Chunk{fullDocumentChunk(text)},
			Fallback: true,
		}
	}

	chunks := make([]types.Chunk, 0, len(headers))
	for i := range headers {
		if !isLeaf(headers, i) {
			continue
		}

		h := headers[i]
		end := len(text)
		if i+1 < len(headers) {
			end = headers[i+1].Start
		}

		parentPath := ""
		if h.Parent >= 0 {
			parentPath = headers[h.Parent].Path
		}

		chunks = append(chunks, types.Chunk{
			ID:         int64(len(chunks) + 1),
			Path:       h.Path,
			Title:      h.Title,
			FullTitle:  fullTitle(headers, i),
			ParentPath: parentPath,
			Depth:      h.Depth,
			Start:      h.Start,
			End:        end,
			Content:    strings.TrimSpace(text[h.Start:end]),
		})
	}

	return &Result{Headers: headers, Chunks: chunks}
}

// ParseHeaders returns every valid header in document order with parent
// links resolved.
func ParseHeaders(text string) []types.HeaderNode {
	matches := headerPattern.FindAllStringSubmatchIndex(text, -1)
	headers := make([]types.HeaderNode, 0, len(matches))

	for _, m := range matches {
		path := text[m[2]:m[3]]
		title := strings.TrimSpace(text[m[4]:m[5]])
		depth := strings.Count(path, ".") + 1

		if depth == 1 && !isUpperTitle(title) {
			continue
		}

		headers = append(headers, types.HeaderNode{
			Path:   path,
			Title:  title,
			Depth:  depth,
			Start:  m[0],
			End:    m[1],
			Parent: -1,
		})
	}

	for i := range headers {
		headers[i].Parent = findParent(headers, i)
	}

	return headers
}

// isUpperTitle reports whether every letter in title is upper case
func isUpperTitle(title string) bool {
	hasLetter := false
	for _, r := range title {
		if !unicode.IsLetter(r) {
			continue
		}
		hasLetter = true
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return hasLetter
}

// isLeaf reports whether the header at i has no direct successor nested under it
func isLeaf(headers []types.HeaderNode, i int) bool {
	if i+1 >= len(headers) {
		return true
	}
	return !headers[i].IsAncestorOf(headers[i+1])
}

// ancestorPaths returns the strict dotted prefixes of path, deepest first
func ancestorPaths(path string) []string {
	parts := strings.Split(path, ".")
	out := make([]string, 0, len(parts)-1)
	for n := len(parts) - 1; n >= 1; n-- {
		out = append(out, strings.Join(parts[:n], "."))
	}
	return out
}

// findParent returns the index of the deepest ancestor that exists before i.
// Missing intermediate levels fall back to the next shallower ancestor.
func findParent(headers []types.HeaderNode, i int) int {
	for _, ap := range ancestorPaths(headers[i].Path) {
		if idx := lastIndexOf(headers[:i], ap); idx >= 0 {
			return idx
		}
	}
	return -1
}

// lastIndexOf finds the nearest preceding header with the given path
func lastIndexOf(headers []types.HeaderNode, path string) int {
	for j := len(headers) - 1; j >= 0; j-- {
		if headers[j].Path == path {
			return j
		}
	}
	return -1
}

// fullTitle joins the titles of existing ancestors root-first with the leaf title
func fullTitle(headers []types.HeaderNode, i int) string {
	parts := []string{headers[i].Title}
	for p := headers[i].Parent; p >= 0; p = headers[p].Parent {
		parts = append(parts, headers[p].Title)
	}
	for l, r := 0, len(parts)-1; l < r; l, r = l+1, r-1 {
		parts[l], parts[r] = parts[r], parts[l]
	}
	return strings.Join(parts, types.TitleSeparator)
}

func fullDocumentChunk(text string) types.Chunk {
	return types.Chunk{
		ID:        1,
		Title:     types.FullDocumentTitle,
		FullTitle: types.FullDocumentTitle,
		Start:     0,
		End:       len(text),
		Content:   strings.TrimSpace(text),
	}
}
