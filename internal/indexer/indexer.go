package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/protocolqa/internal/embedder"
	"github.com/dshills/protocolqa/internal/metrics"
	"github.com/dshills/protocolqa/internal/segmenter"
	"github.com/dshills/protocolqa/internal/storage"
	"github.com/dshills/protocolqa/internal/windower"
	"github.com/dshills/protocolqa/pkg/types"
)

// Source is one protocol document to ingest
type Source struct {
	Name string
	Text string
}

// SourceFromFile reads a UTF-8 text file as a Source
func SourceFromFile(path string) (Source, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("failed to read source: %w", err)
	}
	return Source{Name: filepath.Base(path), Text: string(content)}, nil
}

// Options controls building and persisting an index
type Options struct {
	Dir         string          // Bundle directory; empty keeps the index in memory
	Windowing   windower.Config // Window size and overlap
	BatchSize   int             // Texts per embedding request (default: 32)
	Workers     int             // Concurrent embedding batches (default: runtime.NumCPU())
	UseExisting bool            // Open loads an existing bundle instead of rebuilding
	BeforeStore func()          // Called once a build is about to replace the files in Dir
}

// Index is a built or loaded bundle. It is read-only while serving.
type Index struct {
	Store    storage.Storage
	Manifest Manifest
	Dir      string
}

// Close releases the bundle database
func (ix *Index) Close() error {
	if ix == nil || ix.Store == nil {
		return nil
	}
	return ix.Store.Close()
}

// Statistics summarizes a build
type Statistics struct {
	Chunks   int
	Windows  int
	Tables   int
	Fallback bool
	Duration time.Duration
}

// Indexer coordinates the pipeline: segment -> window -> embed -> store
type Indexer struct {
	segmenter *segmenter.Segmenter
	embedder  embedder.Embedder
	metrics   *metrics.Metrics
	logger    *slog.Logger
	lock      IndexLock
}

// New creates a new Indexer. m may be nil.
func New(emb embedder.Embedder, m *metrics.Metrics, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		segmenter: segmenter.New(),
		embedder:  emb,
		metrics:   m,
		logger:    logger,
	}
}

// Embedder returns the embedder used for windows and queries
func (idx *Indexer) Embedder() embedder.Embedder {
	return idx.embedder
}

// Open loads the bundle in opts.Dir when opts.UseExisting is set and a marker
// exists; otherwise it builds a fresh index from src.
func (idx *Indexer) Open(ctx context.Context, src Source, opts Options) (*Index, error) {
	if opts.UseExisting && ManifestExists(opts.Dir) {
		ix, err := idx.Load(ctx, opts.Dir)
		if err != nil {
			return nil, err
		}
		if src.Text != "" && ix.Manifest.SourceSHA256 != sourceHash(src.Text) {
			idx.logger.Warn("bundle built from different source", "dir", opts.Dir, "bundle_source", ix.Manifest.SourceName, "source", src.Name)
		}
		return ix, nil
	}
	return idx.Build(ctx, src, opts)
}

// Build segments, windows and embeds src and stores both indexes. When
// opts.Dir is set the bundle is persisted and the marker written last.
func (idx *Indexer) Build(ctx context.Context, src Source, opts Options) (ix *Index, err error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	start := time.Now()
	windowCount := 0
	defer func() {
		idx.metrics.ObserveIndexBuild(time.Since(start), windowCount, err)
	}()

	if opts.Windowing == (windower.Config{}) {
		opts.Windowing = windower.DefaultConfig()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = embedder.DefaultBatchSize
	}

	w, err := windower.New(opts.Windowing)
	if err != nil {
		return nil, err
	}

	result := idx.segmenter.Segment(src.Text)
	if result.Fallback {
		idx.logger.Warn("no section headers found, indexing whole document", "source", src.Name)
	}
	windows := w.WindowAll(result.Chunks)
	windowCount = len(windows)

	// Embed before touching storage; identity is fixed by window position
	texts := make([]string, len(windows))
	for i := range windows {
		texts[i] = windows[i].EmbeddingText()
	}
	vectors, err := embedder.EmbedAll(ctx, idx.embedder, texts, opts.BatchSize, opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to embed windows: %w", err)
	}

	if opts.BeforeStore != nil {
		opts.BeforeStore()
	}
	store, err := idx.openForBuild(opts.Dir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()

	id := embedder.IdentityOf(idx.embedder)
	doc := &storage.Document{
		UUID:             uuid.NewString(),
		SourceName:       src.Name,
		SourceHash:       sha256.Sum256([]byte(src.Text)),
		EmbedderProvider: id.Provider,
		EmbedderModel:    id.Model,
		EmbeddingDim:     id.Dimension,
		MaxTokens:        opts.Windowing.MaxTokens,
		Overlap:          opts.Windowing.Overlap,
	}
	if err := idx.store(ctx, store, doc, result.Chunks, windows, vectors); err != nil {
		return nil, err
	}

	ptrs := make([]*types.Window, len(windows))
	tables := 0
	for i := range windows {
		ptrs[i] = &windows[i]
		if windows[i].IsTable {
			tables++
		}
	}

	manifest := Manifest{
		FormatVersion:  ManifestVersion,
		SchemaVersion:  storage.CurrentSchemaVersion,
		DocumentID:     doc.UUID,
		SourceName:     src.Name,
		SourceSHA256:   hex.EncodeToString(doc.SourceHash[:]),
		Chunks:         len(result.Chunks),
		Windows:        len(windows),
		Tables:         tables,
		WindowChecksum: WindowChecksum(ptrs),
		Fallback:       result.Fallback,
		Embedder:       id,
		Windowing:      Windowing{MaxTokens: opts.Windowing.MaxTokens, Overlap: opts.Windowing.Overlap},
		BuiltAt:        doc.IndexedAt,
	}

	if opts.Dir != "" {
		if err := writeManifest(opts.Dir, &manifest); err != nil {
			return nil, fmt.Errorf("failed to write bundle marker: %w", err)
		}
	}

	idx.logger.Info("index built",
		"source", src.Name,
		"chunks", manifest.Chunks,
		"windows", manifest.Windows,
		"tables", manifest.Tables,
		"embedder", id.String(),
		"dir", opts.Dir,
		"duration", time.Since(start))

	return &Index{Store: store, Manifest: manifest, Dir: opts.Dir}, nil
}

// openForBuild creates fresh storage. A persisted build removes any previous
// marker first so an interrupted build never looks complete.
func (idx *Indexer) openForBuild(dir string) (*storage.SQLiteStorage, error) {
	if dir == "" {
		return storage.NewSQLiteStorage(":memory:")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bundle dir: %w", err)
	}
	if err := os.Remove(filepath.Join(dir, ManifestFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove old marker: %w", err)
	}
	dbPath := filepath.Join(dir, DatabaseFile)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove old database: %w", err)
		}
	}
	return storage.NewSQLiteStorage(dbPath)
}

// store writes the document, chunks, windows and embeddings in one transaction
func (idx *Indexer) store(ctx context.Context, s storage.Storage, doc *storage.Document, chunks []types.Chunk, windows []types.Window, vectors [][]float32) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := tx.CreateDocument(ctx, doc); err != nil {
		return err
	}
	for i := range chunks {
		if err := tx.InsertChunk(ctx, doc.ID, &chunks[i]); err != nil {
			return err
		}
	}
	for i := range windows {
		if err := tx.InsertWindow(ctx, &windows[i]); err != nil {
			return err
		}
		if err := tx.UpsertEmbedding(ctx, &storage.Embedding{
			WindowID:  windows[i].ID,
			Vector:    storage.SerializeVector(vectors[i]),
			Dimension: len(vectors[i]),
			Provider:  doc.EmbedderProvider,
			Model:     doc.EmbedderModel,
		}); err != nil {
			return err
		}
	}

	doc.TotalChunks = len(chunks)
	doc.TotalWindows = len(windows)
	doc.IndexedAt = time.Now().UTC()
	if err := tx.UpdateDocument(ctx, doc); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	return nil
}

// Load opens a persisted bundle and verifies it against its marker and the
// configured embedder. Any disagreement is an *IndexLoadError.
func (idx *Indexer) Load(ctx context.Context, dir string) (*Index, error) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, loadError(dir, "missing or unreadable bundle marker", err)
	}
	if manifest.FormatVersion != ManifestVersion {
		return nil, loadError(dir, fmt.Sprintf("unsupported bundle format %d", manifest.FormatVersion), nil)
	}

	dbPath := filepath.Join(dir, DatabaseFile)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, loadError(dir, "missing index database", err)
	}

	store, err := storage.OpenSQLiteStorage(ctx, dbPath)
	if err != nil {
		return nil, loadError(dir, "cannot open index database", err)
	}

	if err := idx.verify(ctx, store, manifest); err != nil {
		_ = store.Close()
		return nil, loadError(dir, "bundle verification failed", err)
	}

	idx.logger.Info("index loaded",
		"dir", dir,
		"source", manifest.SourceName,
		"windows", manifest.Windows,
		"embedder", manifest.Embedder.String())

	return &Index{Store: store, Manifest: *manifest, Dir: dir}, nil
}

// verify checks the stored bundle against the marker and the live embedder
func (idx *Indexer) verify(ctx context.Context, store storage.Storage, m *Manifest) error {
	want := embedder.IdentityOf(idx.embedder)
	if m.Embedder != want {
		return fmt.Errorf("embedder mismatch: bundle %s, configured %s", m.Embedder, want)
	}

	doc, err := store.GetDocument(ctx, m.DocumentID)
	if err != nil {
		return fmt.Errorf("document %s: %w", m.DocumentID, err)
	}
	if doc.EmbedderModel != m.Embedder.Model || doc.EmbeddingDim != m.Embedder.Dimension {
		return fmt.Errorf("embedder mismatch: database has %s@%d", doc.EmbedderModel, doc.EmbeddingDim)
	}

	status, err := store.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if status.ChunksCount != m.Chunks {
		return fmt.Errorf("chunk count %d, marker says %d", status.ChunksCount, m.Chunks)
	}
	if status.WindowsCount != m.Windows {
		return fmt.Errorf("window count %d, marker says %d", status.WindowsCount, m.Windows)
	}
	if status.EmbeddingsCount != m.Windows {
		return fmt.Errorf("embedding count %d, want %d", status.EmbeddingsCount, m.Windows)
	}

	windows, err := store.ListWindows(ctx)
	if err != nil {
		return fmt.Errorf("list windows: %w", err)
	}
	if sum := WindowChecksum(windows); sum != m.WindowChecksum {
		return fmt.Errorf("window checksum mismatch")
	}

	if err := store.CheckIntegrity(ctx); err != nil {
		return fmt.Errorf("integrity: %w", err)
	}
	return nil
}

func sourceHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
