// Package types provides shared type definitions for the protocol QA engine.
//
// This package defines domain types used across the segmenter, windower,
// indexer, retriever, router and extractors.
//
// # Core Types
//
// HeaderNode is a numbered section header found in a document. Headers form
// a forest by dotted-path prefix containment ("2" contains "2.1").
//
// Chunk is the content of one leaf header together with its hierarchical
// title, built by joining ancestor titles root-first:
//
//	chunk := &types.Chunk{
//	    Path:      "2.1",
//	    Title:     "Primary Objective",
//	    FullTitle: "STUDY OBJECTIVES: Primary Objective",
//	}
//
// A document without headers yields a single chunk titled "full_document".
//
// Window is the retrieval unit. Windows are cut from chunks so that prose
// respects a token budget while tables stay whole:
//
//	window := &types.Window{
//	    ID:      7,
//	    ChunkID: 3,
//	    Title:   chunk.FullTitle,
//	    Text:    "| Visit | Day |\n|---|---|\n| V1 | 1 |",
//	    IsTable: true,
//	}
//
// # Retrieval
//
// RetrievalHit carries a window id, its fused Reciprocal Rank Fusion score
// and the per-source ranks it was fused from (0 means absent from that
// source).
//
// # Routing
//
// Intent is a closed enum of question categories. RouteDecision is the
// router's output; DefaultRoute is the safe fallback used whenever the model
// output cannot be trusted.
package types
