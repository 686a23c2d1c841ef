package storage

import (
	"context"
	"crypto/sha256"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/protocolqa/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func newTestDocument() *Document {
	return &Document{
		UUID:             "6f1c2a4e-0000-4000-8000-000000000001",
		SourceName:       "protocol.txt",
		SourceHash:       sha256.Sum256([]byte("protocol")),
		EmbedderProvider: "local",
		EmbedderModel:    "hashing-v1",
		EmbeddingDim:     3,
		MaxTokens:        256,
		Overlap:          32,
	}
}

func newTestWindow(id, chunkID int64, ordinal int, title, text string, isTable bool) *types.Window {
	w := &types.Window{
		ID:         id,
		ChunkID:    chunkID,
		Ordinal:    ordinal,
		Title:      title,
		Text:       text,
		IsTable:    isTable,
		TokenCount: 5,
	}
	w.ComputeContentHash()
	return w
}

// seedBundle stores three chunks with one window each
func seedBundle(t *testing.T, s *SQLiteStorage) *Document {
	t.Helper()
	ctx := context.Background()

	doc := newTestDocument()
	require.NoError(t, s.CreateDocument(ctx, doc))

	chunks := []*types.Chunk{
		{ID: 1, Path: "5.1", Title: "Inclusion Criteria", FullTitle: "STUDY POPULATION: Inclusion Criteria", ParentPath: "5", Depth: 2, Start: 0, End: 10, Content: "5.1 Inclusion Criteria"},
		{ID: 2, Path: "5.2", Title: "Exclusion Criteria", FullTitle: "STUDY POPULATION: Exclusion Criteria", ParentPath: "5", Depth: 2, Start: 10, End: 20, Content: "5.2 Exclusion Criteria"},
		{ID: 3, Path: "7.1", Title: "Visits", FullTitle: "SCHEDULE: Visits", ParentPath: "7", Depth: 2, Start: 20, End: 30, Content: "7.1 Visits"},
	}
	for _, c := range chunks {
		require.NoError(t, s.InsertChunk(ctx, doc.ID, c))
	}

	windows := []*types.Window{
		newTestWindow(1, 1, 0, chunks[0].FullTitle, "Adults aged 18 to 65 with type 2 diabetes.", false),
		newTestWindow(2, 2, 0, chunks[1].FullTitle, "Pregnant women. Prior insulin therapy within 90 days.", false),
		newTestWindow(3, 3, 0, chunks[2].FullTitle, "| Visit | Day |\n|---|---|\n| V1 | 1 |", true),
	}
	for _, w := range windows {
		require.NoError(t, s.InsertWindow(ctx, w))
	}

	vectors := map[int64][]float32{
		1: {1, 0, 0},
		2: {1, 0, 0},
		3: {0, 1, 0},
	}
	for id, v := range vectors {
		require.NoError(t, s.UpsertEmbedding(ctx, &Embedding{
			WindowID:  id,
			Vector:    SerializeVector(v),
			Dimension: len(v),
			Provider:  "local",
			Model:     "hashing-v1",
		}))
	}
	return doc
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)

	assert.NotNil(t, storage.db)
	version, err := storage.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestClose(t *testing.T) {
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	assert.NoError(t, storage.Close())
}

func TestCreateDocument(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	doc := newTestDocument()
	require.NoError(t, storage.CreateDocument(ctx, doc))
	assert.Greater(t, doc.ID, int64(0))
	assert.False(t, doc.CreatedAt.IsZero())

	// Duplicate UUID
	err := storage.CreateDocument(ctx, newTestDocument())
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetDocument(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.GetLatestDocument(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	doc := newTestDocument()
	require.NoError(t, storage.CreateDocument(ctx, doc))

	got, err := storage.GetDocument(ctx, doc.UUID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, doc.SourceName, got.SourceName)
	assert.Equal(t, doc.SourceHash, got.SourceHash)
	assert.Equal(t, "hashing-v1", got.EmbedderModel)
	assert.Equal(t, 3, got.EmbeddingDim)
	assert.True(t, got.IndexedAt.IsZero())

	_, err = storage.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateDocument(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	doc := newTestDocument()
	require.NoError(t, storage.CreateDocument(ctx, doc))

	doc.TotalChunks = 4
	doc.TotalWindows = 9
	doc.IndexedAt = time.Now().UTC()
	require.NoError(t, storage.UpdateDocument(ctx, doc))

	got, err := storage.GetLatestDocument(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, got.TotalChunks)
	assert.Equal(t, 9, got.TotalWindows)
	assert.False(t, got.IndexedAt.IsZero())

	doc.ID = 999
	assert.ErrorIs(t, storage.UpdateDocument(ctx, doc), ErrNotFound)
}

func TestChunksAndWindows(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedBundle(t, storage)

	chunks, err := storage.ListChunks(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "5.1", chunks[0].Path)
	assert.Equal(t, "5", chunks[0].ParentPath)

	chunk, err := storage.GetChunk(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "SCHEDULE: Visits", chunk.FullTitle)

	_, err = storage.GetChunk(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	w, err := storage.GetWindow(ctx, 3)
	require.NoError(t, err)
	assert.True(t, w.IsTable)
	assert.Equal(t, "7.1", w.ChunkPath)
	assert.NoError(t, w.Validate())

	got, err := storage.GetWindows(ctx, []int64{1, 3, 77})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, int64(1))
	assert.NotContains(t, got, int64(77))

	all, err := storage.ListWindows(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, win := range all {
		assert.Equal(t, int64(i+1), win.ID)
	}
}

func TestInsertWindow_RejectsUnsetID(t *testing.T) {
	storage := setupTestDB(t)
	err := storage.InsertWindow(context.Background(), &types.Window{ChunkID: 1, Text: "x"})
	assert.ErrorIs(t, err, types.ErrInvalidWindowID)
}

func TestUpsertEmbedding(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedBundle(t, storage)

	e := &Embedding{WindowID: 1, Vector: SerializeVector([]float32{0, 0, 1}), Dimension: 3, Provider: "local", Model: "hashing-v2"}
	require.NoError(t, storage.UpsertEmbedding(ctx, e))

	got, err := storage.GetEmbedding(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1}, DeserializeVector(got.Vector))
	assert.Equal(t, "hashing-v2", got.Model)

	_, err = storage.GetEmbedding(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	doc := seedBundle(t, storage)

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.Document)
	assert.Equal(t, doc.UUID, status.Document.UUID)
	assert.Equal(t, 3, status.ChunksCount)
	assert.Equal(t, 3, status.WindowsCount)
	assert.Equal(t, 1, status.TablesCount)
	assert.Equal(t, 3, status.EmbeddingsCount)
	assert.True(t, status.Health.DatabaseAccessible)
	assert.True(t, status.Health.EmbeddingsAvailable)
	assert.True(t, status.Health.FTSIndexesBuilt)
}

func TestCheckIntegrity(t *testing.T) {
	storage := setupTestDB(t)
	seedBundle(t, storage)
	assert.NoError(t, storage.CheckIntegrity(context.Background()))
}

func TestTransaction_Rollback(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateDocument(ctx, newTestDocument()))

	// Reads inside the transaction see the write
	got, err := tx.GetLatestDocument(ctx)
	require.NoError(t, err)
	assert.Equal(t, "protocol.txt", got.SourceName)
	require.NoError(t, tx.Rollback())

	_, err = storage.GetLatestDocument(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransaction_Commit(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	doc := newTestDocument()
	require.NoError(t, tx.CreateDocument(ctx, doc))
	require.NoError(t, tx.InsertChunk(ctx, doc.ID, &types.Chunk{ID: 1, Path: "1", Title: "INTRODUCTION", FullTitle: "INTRODUCTION", Content: "1 INTRODUCTION"}))
	require.NoError(t, tx.InsertWindow(ctx, newTestWindow(1, 1, 0, "INTRODUCTION", "Background on the trial.", false)))

	results, err := tx.SearchText(ctx, "trial background", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, tx.Commit())

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.WindowsCount)
}

func TestOpenSQLiteStorage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	created, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	seedBundle(t, created)
	require.NoError(t, created.Close())

	opened, err := OpenSQLiteStorage(ctx, path)
	require.NoError(t, err)
	windows, err := opened.ListWindows(ctx)
	require.NoError(t, err)
	assert.Len(t, windows, 3)

	_, err = opened.db.ExecContext(ctx, "UPDATE schema_version SET version = '0.9.0'")
	require.NoError(t, err)
	require.NoError(t, opened.Close())

	_, err = OpenSQLiteStorage(ctx, path)
	assert.ErrorIs(t, err, ErrSchemaVersion)
}

func TestOpenSQLiteStorage_EmptyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	_, err := OpenSQLiteStorage(context.Background(), path)
	assert.ErrorIs(t, err, ErrSchemaVersion)
}

func TestRollbackMigration(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))

	_, err := storage.SchemaVersion(ctx)
	assert.ErrorIs(t, err, ErrSchemaVersion)

	require.NoError(t, ApplyMigrations(ctx, storage.db))
	version, err := storage.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}
