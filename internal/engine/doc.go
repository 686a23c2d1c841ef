// Package engine is the service handle that answers questions about an
// indexed protocol.
//
// An Engine is built once from its collaborators and holds no global
// state. Each question is routed first. Retrieval questions are answered
// by hybrid search followed by grounded composition. Extraction questions
// retrieve with the intent's target query, take the distinct chunks behind
// the top hits and pass them, each under a Section ID / Section Path
// banner, to the intent's extractor.
//
// Ingest and Load swap the served index under a write lock; Ask, Search
// and Status hold a read lock, so a swap waits for in-flight queries.
package engine
