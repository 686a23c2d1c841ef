// Package storage provides SQLite-based persistence for an index bundle.
//
// A bundle database holds one protocol document:
//   - documents: provenance, embedder identity and windowing parameters
//   - chunks: leaf sections produced by the segmenter
//   - windows: retrieval units produced by the windower
//   - windows_fts: FTS5 external-content index over window title and text
//   - embeddings: one float32 vector per window
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("bundle/index.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	_ = tx.CreateDocument(ctx, doc)
//	_ = tx.InsertChunk(ctx, doc.ID, chunk)
//	_ = tx.InsertWindow(ctx, window)
//	_ = tx.UpsertEmbedding(ctx, embedding)
//	return tx.Commit()
//
// Existing bundles are opened with OpenSQLiteStorage, which checks the
// schema version and never migrates.
//
// # Search
//
// SearchVector ranks windows by cosine similarity and drops non-positive
// scores. SearchText ranks windows by BM25 with title matches weighted
// double; free text is reduced to quoted OR-terms before matching. Both
// break score ties by ascending window id.
//
// # Build Tags
//
// CGO build (sqlite_vec tag) uses github.com/mattn/go-sqlite3 with
// vec_distance_cosine registered as a SQL function:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,sqlite_fts5"
//
// Pure Go build uses modernc.org/sqlite and computes similarity in Go:
//
//	CGO_ENABLED=0 go build -tags "purego"
package storage
