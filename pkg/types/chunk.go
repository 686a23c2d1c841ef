package types

import (
	"crypto/sha256"
	"errors"
	"strings"
)

// FullDocumentTitle is the title of the single chunk produced when a document
// has no recognizable section headers.
const FullDocumentTitle = "full_document"

// TitleSeparator joins ancestor titles into a chunk's full title.
const TitleSeparator = ": "

// HeaderNode is a numbered section header found in a document
type HeaderNode struct {
	Path   string // Dotted numeric path, e.g. "2.1"
	Title  string
	Depth  int // Number of path segments
	Start  int // Byte offset of the header line
	End    int // Byte offset just past the header line
	Parent int // Index of the nearest existing ancestor, -1 for roots
}

// IsAncestorOf reports whether h's path is a strict dot-prefix of other.
func (h HeaderNode) IsAncestorOf(other HeaderNode) bool {
	return strings.HasPrefix(other.Path, h.Path+".")
}

// Chunk is the content span of a leaf header plus its hierarchical title
type Chunk struct {
	// Identification
	ID   int64
	Path string // Empty for the full_document chunk

	// Titles
	Title      string // Leaf title
	FullTitle  string // Ancestor titles root-first, then the leaf title
	ParentPath string

	// Location
	Depth int
	Start int
	End   int

	// Content
	Content string
}

// IsFullDocument reports whether the chunk is the no-headers fallback
func (c *Chunk) IsFullDocument() bool {
	return c.Path == "" && c.FullTitle == FullDocumentTitle
}

// Validate checks the chunk's offsets and content
func (c *Chunk) Validate() error {
	if strings.TrimSpace(c.Content) == "" {
		return ErrEmptyContent
	}
	if c.Start < 0 || c.End < c.Start {
		return errors.New("invalid chunk offsets")
	}
	if c.FullTitle == "" {
		return errors.New("chunk title is required")
	}
	return nil
}

// Window is a retrieval unit cut from a chunk. Its ID is shared by the dense
// and lexical indexes.
type Window struct {
	// Identification
	ID        int64
	ChunkID   int64
	ChunkPath string
	Ordinal   int // Position within the chunk, starting at 0

	// Content
	Title       string // Full title of the owning chunk
	Text        string
	IsTable     bool
	TokenCount  int
	ContentHash [32]byte
}

// ComputeContentHash computes the SHA-256 hash of the window text
func (w *Window) ComputeContentHash() {
	w.ContentHash = sha256.Sum256([]byte(w.Text))
}

// EmbeddingText returns the text sent to the embedder for this window
func (w *Window) EmbeddingText() string {
	if w.Title == "" {
		return w.Text
	}
	return w.Title + "\n" + w.Text
}

// Validate performs validation of the window
func (w *Window) Validate() error {
	if w.ID <= 0 {
		return ErrInvalidWindowID
	}
	if strings.TrimSpace(w.Text) == "" {
		return ErrEmptyContent
	}
	var zeroHash [32]byte
	if w.ContentHash == zeroHash {
		return errors.New("content hash must be computed")
	}
	return nil
}
