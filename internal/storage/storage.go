package storage

import (
	"context"
	"time"

	"github.com/dshills/protocolqa/pkg/types"
)

// Storage defines the interface for persisting and querying an index bundle
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, docUUID string) (*Document, error)
	GetLatestDocument(ctx context.Context) (*Document, error)
	UpdateDocument(ctx context.Context, doc *Document) error

	// Chunk operations
	InsertChunk(ctx context.Context, documentID int64, chunk *types.Chunk) error
	GetChunk(ctx context.Context, chunkID int64) (*types.Chunk, error)
	ListChunks(ctx context.Context) ([]*types.Chunk, error)

	// Window operations
	InsertWindow(ctx context.Context, window *types.Window) error
	GetWindow(ctx context.Context, windowID int64) (*types.Window, error)
	GetWindows(ctx context.Context, windowIDs []int64) (map[int64]*types.Window, error)
	ListWindows(ctx context.Context) ([]*types.Window, error)

	// Embedding operations
	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
	GetEmbedding(ctx context.Context, windowID int64) (*Embedding, error)

	// Search operations
	SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error)
	SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error)

	// Status operations
	GetStatus(ctx context.Context) (*IndexStatus, error)
	CheckIntegrity(ctx context.Context) error
	SchemaVersion(ctx context.Context) (string, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Document represents the protocol held by a bundle
type Document struct {
	ID               int64
	UUID             string
	SourceName       string
	SourceHash       [32]byte
	EmbedderProvider string
	EmbedderModel    string
	EmbeddingDim     int
	MaxTokens        int
	Overlap          int
	TotalChunks      int
	TotalWindows     int
	IndexedAt        time.Time
	CreatedAt        time.Time
}

// Embedding represents a vector embedding for a window
type Embedding struct {
	WindowID  int64
	Vector    []byte // Serialized float32 array
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// SearchFilters contains filters for narrowing search results
type SearchFilters struct {
	PathPrefix   string  // Only windows whose chunk path equals or nests under this path
	TablesOnly   bool    // Only table windows
	MinRelevance float64 // Minimum relevance score
}

// VectorResult represents a result from vector similarity search
type VectorResult struct {
	WindowID        int64
	SimilarityScore float64
}

// TextResult represents a result from full-text search
type TextResult struct {
	WindowID  int64
	BM25Score float64
}

// IndexStatus contains statistics about the bundle
type IndexStatus struct {
	Document        *Document
	ChunksCount     int
	WindowsCount    int
	TablesCount     int
	EmbeddingsCount int
	IndexSizeMB     float64
	Health          HealthStatus
}

// HealthStatus represents the health of the index
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	FTSIndexesBuilt     bool
}
