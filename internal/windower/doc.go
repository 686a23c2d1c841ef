// Package windower cuts section chunks into retrieval windows.
//
// Chunk content is partitioned into prose blocks and table blocks. A table
// block is a pipe-delimited row, a separator row of dashes, colons and pipes,
// and at least one more pipe row:
//
//	| Visit | Day |
//	|-------|-----|
//	| V1    | 1   |
//
// Tables always become exactly one window, however long. Prose blocks are
// tokenized on whitespace; a block that fits in MaxTokens is one window equal
// to the trimmed block, otherwise windows of MaxTokens tokens advance by
// MaxTokens-Overlap until the last token is covered. Window text is the
// original substring spanning its tokens, so line breaks and indentation
// survive.
//
// # Basic Usage
//
//	w, err := windower.New(windower.Config{MaxTokens: 256, Overlap: 32})
//	if err != nil {
//	    return err // overlap must be smaller than max_tokens
//	}
//	windows := w.WindowAll(result.Chunks)
//
// WindowAll assigns window ids 1..n in document order. Those ids are shared
// by the dense and lexical indexes.
package windower
