package types

import "errors"

// Domain errors for type validation
var (
	// Chunk and window errors
	ErrEmptyContent    = errors.New("content cannot be empty")
	ErrInvalidWindowID = errors.New("invalid window ID")

	// Retrieval errors
	ErrInvalidRank      = errors.New("rank must be >= 1")
	ErrNoSource         = errors.New("hit has no dense or lexical rank")
	ErrUnresolvedWindow = errors.New("hit does not resolve to its window")

	// Routing errors
	ErrUnknownIntent = errors.New("unknown intent")
)
