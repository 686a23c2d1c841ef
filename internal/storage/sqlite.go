package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/protocolqa/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrSchemaVersion is returned when a bundle was written by an unknown schema
	ErrSchemaVersion = errors.New("unsupported schema version")
	// ErrIntegrity is returned when SQLite or FTS5 integrity checks fail
	ErrIntegrity = errors.New("integrity check failed")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// A single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance, applying migrations
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// OpenSQLiteStorage opens an existing bundle database without migrating it.
// It fails with ErrSchemaVersion when the schema is not the current one.
func OpenSQLiteStorage(ctx context.Context, dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := checkSchemaVersion(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Document operations

// createDocumentWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) createDocumentWithQuerier(ctx context.Context, q querier, doc *Document) error {
	query := `
		INSERT INTO documents (doc_uuid, source_name, source_hash, embedder_provider, embedder_model,
		                       embedding_dim, max_tokens, overlap, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query,
		doc.UUID, doc.SourceName, doc.SourceHash[:], doc.EmbedderProvider, doc.EmbedderModel,
		doc.EmbeddingDim, doc.MaxTokens, doc.Overlap, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: document %s", ErrAlreadyExists, doc.UUID)
		}
		return fmt.Errorf("failed to create document: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	doc.ID = id
	doc.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *Document) error {
	return s.createDocumentWithQuerier(ctx, s.querier(), doc)
}

const documentColumns = `
	id, doc_uuid, source_name, source_hash, embedder_provider, embedder_model, embedding_dim,
	max_tokens, overlap, total_chunks, total_windows, indexed_at, created_at
`

// scanDocument scans one documents row
func scanDocument(row *sql.Row) (*Document, error) {
	var doc Document
	var hash []byte
	var provider, model sql.NullString
	var indexedAt sql.NullTime
	err := row.Scan(
		&doc.ID, &doc.UUID, &doc.SourceName, &hash, &provider, &model, &doc.EmbeddingDim,
		&doc.MaxTokens, &doc.Overlap, &doc.TotalChunks, &doc.TotalWindows, &indexedAt, &doc.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	copy(doc.SourceHash[:], hash)
	doc.EmbedderProvider = provider.String
	doc.EmbedderModel = model.String
	if indexedAt.Valid {
		doc.IndexedAt = indexedAt.Time
	}
	return &doc, nil
}

// getDocumentWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getDocumentWithQuerier(ctx context.Context, q querier, docUUID string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE doc_uuid = ?`
	return scanDocument(q.QueryRowContext(ctx, query, docUUID))
}

func (s *SQLiteStorage) GetDocument(ctx context.Context, docUUID string) (*Document, error) {
	return s.getDocumentWithQuerier(ctx, s.querier(), docUUID)
}

// getLatestDocumentWithQuerier returns the most recently created document
func (s *SQLiteStorage) getLatestDocumentWithQuerier(ctx context.Context, q querier) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents ORDER BY id DESC LIMIT 1`
	return scanDocument(q.QueryRowContext(ctx, query))
}

func (s *SQLiteStorage) GetLatestDocument(ctx context.Context) (*Document, error) {
	return s.getLatestDocumentWithQuerier(ctx, s.querier())
}

// updateDocumentWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) updateDocumentWithQuerier(ctx context.Context, q querier, doc *Document) error {
	query := `
		UPDATE documents
		SET embedder_provider = ?, embedder_model = ?, embedding_dim = ?,
		    total_chunks = ?, total_windows = ?, indexed_at = ?
		WHERE id = ?
	`
	result, err := q.ExecContext(ctx, query,
		doc.EmbedderProvider, doc.EmbedderModel, doc.EmbeddingDim,
		doc.TotalChunks, doc.TotalWindows, doc.IndexedAt, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) UpdateDocument(ctx context.Context, doc *Document) error {
	return s.updateDocumentWithQuerier(ctx, s.querier(), doc)
}

// Chunk operations

// insertChunkWithQuerier stores a chunk under its segmenter-assigned id
func (s *SQLiteStorage) insertChunkWithQuerier(ctx context.Context, q querier, documentID int64, chunk *types.Chunk) error {
	query := `
		INSERT INTO chunks (id, document_id, path, title, full_title, parent_path, depth,
		                    start_offset, end_offset, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		chunk.ID, documentID, chunk.Path, chunk.Title, chunk.FullTitle, chunk.ParentPath, chunk.Depth,
		chunk.Start, chunk.End, chunk.Content)
	if err != nil {
		return fmt.Errorf("failed to insert chunk %d: %w", chunk.ID, err)
	}
	return nil
}

func (s *SQLiteStorage) InsertChunk(ctx context.Context, documentID int64, chunk *types.Chunk) error {
	return s.insertChunkWithQuerier(ctx, s.querier(), documentID, chunk)
}

const chunkColumns = `id, path, title, full_title, parent_path, depth, start_offset, end_offset, content`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row rowScanner) (*types.Chunk, error) {
	var c types.Chunk
	var parent sql.NullString
	if err := row.Scan(&c.ID, &c.Path, &c.Title, &c.FullTitle, &parent, &c.Depth, &c.Start, &c.End, &c.Content); err != nil {
		return nil, err
	}
	c.ParentPath = parent.String
	return &c, nil
}

// getChunkWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getChunkWithQuerier(ctx context.Context, q querier, chunkID int64) (*types.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE id = ?`
	c, err := scanChunk(q.QueryRowContext(ctx, query, chunkID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *SQLiteStorage) GetChunk(ctx context.Context, chunkID int64) (*types.Chunk, error) {
	return s.getChunkWithQuerier(ctx, s.querier(), chunkID)
}

// listChunksWithQuerier returns all chunks in id order
func (s *SQLiteStorage) listChunksWithQuerier(ctx context.Context, q querier) ([]*types.Chunk, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+chunkColumns+` FROM chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStorage) ListChunks(ctx context.Context) ([]*types.Chunk, error) {
	return s.listChunksWithQuerier(ctx, s.querier())
}

// Window operations

// insertWindowWithQuerier stores a window under its precomputed id. The FTS
// index is populated by trigger.
func (s *SQLiteStorage) insertWindowWithQuerier(ctx context.Context, q querier, w *types.Window) error {
	if w.ID <= 0 {
		return types.ErrInvalidWindowID
	}
	query := `
		INSERT INTO windows (id, chunk_id, ordinal, title, text, is_table, token_count, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		w.ID, w.ChunkID, w.Ordinal, w.Title, w.Text, w.IsTable, w.TokenCount, w.ContentHash[:])
	if err != nil {
		return fmt.Errorf("failed to insert window %d: %w", w.ID, err)
	}
	return nil
}

func (s *SQLiteStorage) InsertWindow(ctx context.Context, w *types.Window) error {
	return s.insertWindowWithQuerier(ctx, s.querier(), w)
}

const windowSelect = `
	SELECT w.id, w.chunk_id, c.path, w.ordinal, w.title, w.text, w.is_table, w.token_count, w.content_hash
	FROM windows w
	INNER JOIN chunks c ON c.id = w.chunk_id
`

func scanWindow(row rowScanner) (*types.Window, error) {
	var w types.Window
	var tokenCount sql.NullInt64
	var hash []byte
	if err := row.Scan(&w.ID, &w.ChunkID, &w.ChunkPath, &w.Ordinal, &w.Title, &w.Text, &w.IsTable, &tokenCount, &hash); err != nil {
		return nil, err
	}
	w.TokenCount = int(tokenCount.Int64)
	copy(w.ContentHash[:], hash)
	return &w, nil
}

// getWindowWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getWindowWithQuerier(ctx context.Context, q querier, windowID int64) (*types.Window, error) {
	w, err := scanWindow(q.QueryRowContext(ctx, windowSelect+` WHERE w.id = ?`, windowID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return w, err
}

func (s *SQLiteStorage) GetWindow(ctx context.Context, windowID int64) (*types.Window, error) {
	return s.getWindowWithQuerier(ctx, s.querier(), windowID)
}

// getWindowsWithQuerier resolves a set of ids. Unknown ids are absent from the map.
func (s *SQLiteStorage) getWindowsWithQuerier(ctx context.Context, q querier, windowIDs []int64) (map[int64]*types.Window, error) {
	out := make(map[int64]*types.Window, len(windowIDs))
	if len(windowIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(windowIDs))
	args := make([]interface{}, len(windowIDs))
	for i, id := range windowIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := windowSelect + ` WHERE w.id IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get windows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		out[w.ID] = w
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) GetWindows(ctx context.Context, windowIDs []int64) (map[int64]*types.Window, error) {
	return s.getWindowsWithQuerier(ctx, s.querier(), windowIDs)
}

// listWindowsWithQuerier returns all windows in id order
func (s *SQLiteStorage) listWindowsWithQuerier(ctx context.Context, q querier) ([]*types.Window, error) {
	rows, err := q.QueryContext(ctx, windowSelect+` ORDER BY w.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var windows []*types.Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

func (s *SQLiteStorage) ListWindows(ctx context.Context) ([]*types.Window, error) {
	return s.listWindowsWithQuerier(ctx, s.querier())
}

// Embedding operations

// upsertEmbeddingWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertEmbeddingWithQuerier(ctx context.Context, q querier, e *Embedding) error {
	query := `
		INSERT INTO embeddings (window_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(window_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model,
			created_at = excluded.created_at
	`
	now := time.Now().UTC()
	if _, err := q.ExecContext(ctx, query, e.WindowID, e.Vector, e.Dimension, e.Provider, e.Model, now); err != nil {
		return fmt.Errorf("failed to upsert embedding for window %d: %w", e.WindowID, err)
	}
	e.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, e *Embedding) error {
	return s.upsertEmbeddingWithQuerier(ctx, s.querier(), e)
}

// getEmbeddingWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getEmbeddingWithQuerier(ctx context.Context, q querier, windowID int64) (*Embedding, error) {
	query := `SELECT window_id, vector, dimension, provider, model, created_at FROM embeddings WHERE window_id = ?`
	var e Embedding
	err := q.QueryRowContext(ctx, query, windowID).Scan(&e.WindowID, &e.Vector, &e.Dimension, &e.Provider, &e.Model, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStorage) GetEmbedding(ctx context.Context, windowID int64) (*Embedding, error) {
	return s.getEmbeddingWithQuerier(ctx, s.querier(), windowID)
}

// Search operations

func (s *SQLiteStorage) SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	return searchVector(ctx, s.querier(), vector, limit, filters)
}

func (s *SQLiteStorage) SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	return searchText(ctx, s.querier(), query, limit, filters)
}

// Status operations

// getStatusWithQuerier gathers row counts and health for the bundle
func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier) (*IndexStatus, error) {
	status := &IndexStatus{}

	doc, err := s.getLatestDocumentWithQuerier(ctx, q)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	status.Document = doc

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM chunks", &status.ChunksCount},
		{"SELECT COUNT(*) FROM windows", &status.WindowsCount},
		{"SELECT COUNT(*) FROM windows WHERE is_table = 1", &status.TablesCount},
		{"SELECT COUNT(*) FROM embeddings", &status.EmbeddingsCount},
	}
	for _, c := range counts {
		if err := q.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count rows: %w", err)
		}
	}

	// Calculate database size
	var pageCount, pageSize int
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.EmbeddingsCount > 0 && status.EmbeddingsCount == status.WindowsCount,
		FTSIndexesBuilt:     checkFTS(ctx, q) == nil,
	}

	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return s.getStatusWithQuerier(ctx, s.querier())
}

// checkFTS runs the FTS5 integrity check, which also compares the index with
// the windows content table.
func checkFTS(ctx context.Context, q querier) error {
	if _, err := q.ExecContext(ctx, "INSERT INTO windows_fts(windows_fts) VALUES('integrity-check')"); err != nil {
		return fmt.Errorf("%w: fts: %v", ErrIntegrity, err)
	}
	return nil
}

// checkIntegrityWithQuerier runs SQLite and FTS5 integrity checks
func checkIntegrityWithQuerier(ctx context.Context, q querier) error {
	var result string
	if err := q.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: %s", ErrIntegrity, result)
	}
	return checkFTS(ctx, q)
}

func (s *SQLiteStorage) CheckIntegrity(ctx context.Context) error {
	return checkIntegrityWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (string, error) {
	return checkSchemaVersion(ctx, s.querier())
}

// Transaction implementations route every call through the transaction so a
// single-connection pool never waits on itself.

func (t *sqliteTx) CreateDocument(ctx context.Context, doc *Document) error {
	return t.storage.createDocumentWithQuerier(ctx, t.querier(), doc)
}

func (t *sqliteTx) GetDocument(ctx context.Context, docUUID string) (*Document, error) {
	return t.storage.getDocumentWithQuerier(ctx, t.querier(), docUUID)
}

func (t *sqliteTx) GetLatestDocument(ctx context.Context) (*Document, error) {
	return t.storage.getLatestDocumentWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) UpdateDocument(ctx context.Context, doc *Document) error {
	return t.storage.updateDocumentWithQuerier(ctx, t.querier(), doc)
}

func (t *sqliteTx) InsertChunk(ctx context.Context, documentID int64, chunk *types.Chunk) error {
	return t.storage.insertChunkWithQuerier(ctx, t.querier(), documentID, chunk)
}

func (t *sqliteTx) GetChunk(ctx context.Context, chunkID int64) (*types.Chunk, error) {
	return t.storage.getChunkWithQuerier(ctx, t.querier(), chunkID)
}

func (t *sqliteTx) ListChunks(ctx context.Context) ([]*types.Chunk, error) {
	return t.storage.listChunksWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) InsertWindow(ctx context.Context, w *types.Window) error {
	return t.storage.insertWindowWithQuerier(ctx, t.querier(), w)
}

func (t *sqliteTx) GetWindow(ctx context.Context, windowID int64) (*types.Window, error) {
	return t.storage.getWindowWithQuerier(ctx, t.querier(), windowID)
}

func (t *sqliteTx) GetWindows(ctx context.Context, windowIDs []int64) (map[int64]*types.Window, error) {
	return t.storage.getWindowsWithQuerier(ctx, t.querier(), windowIDs)
}

func (t *sqliteTx) ListWindows(ctx context.Context) ([]*types.Window, error) {
	return t.storage.listWindowsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) UpsertEmbedding(ctx context.Context, e *Embedding) error {
	return t.storage.upsertEmbeddingWithQuerier(ctx, t.querier(), e)
}

func (t *sqliteTx) GetEmbedding(ctx context.Context, windowID int64) (*Embedding, error) {
	return t.storage.getEmbeddingWithQuerier(ctx, t.querier(), windowID)
}

func (t *sqliteTx) SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	return searchVector(ctx, t.querier(), vector, limit, filters)
}

func (t *sqliteTx) SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	return searchText(ctx, t.querier(), query, limit, filters)
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) CheckIntegrity(ctx context.Context) error {
	return checkIntegrityWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) SchemaVersion(ctx context.Context) (string, error) {
	return checkSchemaVersion(ctx, t.querier())
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
