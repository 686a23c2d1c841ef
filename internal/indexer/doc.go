// Package indexer builds and loads the dual dense and lexical index for one
// protocol document.
//
// Build runs the pipeline:
//
//  1. Segment: numbered headers become leaf-section chunks
//  2. Window: chunks become windows with ids 1..n in document order
//  3. Embed: windows are embedded in parallel batches, keyed by position
//  4. Store: chunks, windows (FTS5 via trigger) and embeddings in one transaction
//  5. Mark: bundle.json is written last when persisting
//
// Because ids are assigned before embedding, the same window id names the
// same text in both indexes regardless of worker count.
//
// # Persistence
//
// A bundle directory holds index.db and bundle.json. Load verifies the marker
// against the database (counts, window checksum, schema version, integrity)
// and against the configured embedder, and returns an *IndexLoadError on any
// disagreement:
//
//	ix, err := idx.Load(ctx, "bundles/protocol-001")
//	if errors.Is(err, indexer.ErrIndexLoad) {
//	    // rebuild explicitly; Load never does
//	}
//
// Builds are exclusive per Indexer; a concurrent Build returns
// ErrIndexingInProgress.
package indexer
