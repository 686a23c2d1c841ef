// Package segmenter splits protocol text into hierarchical leaf-section chunks.
//
// A header is a whole line made of a dotted numeric path followed by a title
// that starts with an upper-case letter:
//
//	2 STUDY OBJECTIVES
//	2.1 Primary Objective
//
// Top-level (depth 1) titles must be entirely upper case so that numbered
// prose such as "2 Weeks after dosing" is not mistaken for a section.
//
// # Basic Usage
//
//	s := segmenter.New()
//	result := s.Segment(text)
//
//	for _, chunk := range result.Chunks {
//	    fmt.Printf("%s (%d bytes)\n", chunk.FullTitle, len(chunk.Content))
//	}
//
// # Leaves and Titles
//
// Only leaf headers produce chunks. A header is a leaf when the header that
// immediately follows it is not nested under its path. The chunk content
// runs from the leaf header to the next header of any depth, trimmed.
//
// The full title joins the titles of every existing ancestor root-first with
// ": ", e.g. "STUDY OBJECTIVES: Primary Objective". Ancestors are resolved by
// dotted-path prefix; when an intermediate level is missing the next
// shallower ancestor is used instead.
//
// # Fallback
//
// A document without headers yields one chunk titled "full_document" holding
// the whole text, and Result.Fallback is set. This is not an error.
package segmenter
