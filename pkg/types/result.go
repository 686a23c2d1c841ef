package types

// RetrievalHit is one fused retrieval result
type RetrievalHit struct {
	// Identification
	WindowID int64
	Rank     int // Position in the fused list (1-based)

	// Scoring
	Score       float64 // Reciprocal Rank Fusion score
	DenseRank   int     // 1-based rank in the dense list, 0 when absent
	LexicalRank int     // 1-based rank in the lexical list, 0 when absent

	// Resolved window
	Window *Window
}

// Validate checks if the hit is valid
func (h *RetrievalHit) Validate() error {
	if h.WindowID <= 0 {
		return ErrInvalidWindowID
	}

	if h.Rank < 1 {
		return ErrInvalidRank
	}

	if h.DenseRank == 0 && h.LexicalRank == 0 {
		return ErrNoSource
	}

	if h.Window == nil || h.Window.ID != h.WindowID {
		return ErrUnresolvedWindow
	}

	return nil
}
