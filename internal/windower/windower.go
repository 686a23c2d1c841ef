package windower

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/protocolqa/pkg/types"
)

const (
	// DefaultMaxTokens is the default window size in whitespace tokens
	DefaultMaxTokens = 256

	// DefaultOverlap is the default number of tokens shared by consecutive windows
	DefaultOverlap = 32
)

// ErrInvalidConfig is returned when the window size and overlap are inconsistent
var ErrInvalidConfig = errors.New("invalid windower config")

var (
	tokenPattern     = regexp.MustCompile(`\S+`)
	separatorPattern = regexp.MustCompile(`^[\s|:\-]+$`)
)

// Config controls how chunks are cut into windows
type Config struct {
	MaxTokens int `yaml:"max_tokens"`
	Overlap   int `yaml:"overlap"`
}

// DefaultConfig returns the default windowing configuration
func DefaultConfig() Config {
	return Config{
		MaxTokens: DefaultMaxTokens,
		Overlap:   DefaultOverlap,
	}
}

// Validate enforces 0 <= Overlap < MaxTokens
func (c Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive, got %d", ErrInvalidConfig, c.MaxTokens)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidConfig, c.Overlap)
	}
	if c.Overlap >= c.MaxTokens {
		return fmt.Errorf("%w: overlap %d must be less than max_tokens %d", ErrInvalidConfig, c.Overlap, c.MaxTokens)
	}
	return nil
}

// Block is a contiguous prose or table region of a chunk
type Block struct {
	Text    string
	Start   int
	End     int
	IsTable bool
}

// Windower cuts chunks into retrieval windows
type Windower struct {
	cfg Config
}

// New creates a Windower after validating cfg
func New(cfg Config) (*Windower, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Windower{cfg: cfg}, nil
}

// Config returns the windowing configuration in use
func (w *Windower) Config() Config {
	return w.cfg
}

// WindowAll windows every chunk and assigns ids 1..n in document order
func (w *Windower) WindowAll(chunks []types.Chunk) []types.Window {
	windows := make([]types.Window, 0, len(chunks))
	for i := range chunks {
		windows = append(windows, w.Window(chunks[i])...)
	}
	for i := range windows {
		windows[i].ID = int64(i + 1)
	}
	return windows
}

// Window cuts one chunk into windows. Table blocks become a single window
// each; prose blocks are split on whitespace tokens with overlap. Returned
// windows have no ID yet.
func (w *Windower) Window(chunk types.Chunk) []types.Window {
	var windows []types.Window

	for _, block := range SplitBlocks(chunk.Content) {
		var texts []string
		if block.IsTable {
			texts = []string{strings.TrimSpace(block.Text)}
		} else {
			texts = w.windowProse(block.Text)
		}

		for _, text := range texts {
			if text == "" {
				continue
			}
			win := types.Window{
				ChunkID:    chunk.ID,
				ChunkPath:  chunk.Path,
				Ordinal:    len(windows),
				Title:      chunk.FullTitle,
				Text:       text,
				IsTable:    block.IsTable,
				TokenCount: CountTokens(text),
			}
			win.ComputeContentHash()
			windows = append(windows, win)
		}
	}

	return windows
}

// windowProse splits a prose block into overlapping token windows. The text
// of each window is the original substring spanning its tokens.
func (w *Windower) windowProse(text string) []string {
	tokens := tokenPattern.FindAllStringIndex(text, -1)
	n := len(tokens)
	if n == 0 {
		return nil
	}
	if n <= w.cfg.MaxTokens {
		return []string{strings.TrimSpace(text)}
	}

	step := w.cfg.MaxTokens - w.cfg.Overlap
	out := make([]string, 0, n/step+1)
	for start := 0; ; start += step {
		end := start + w.cfg.MaxTokens
		if end > n {
			end = n
		}
		out = append(out, text[tokens[start][0]:tokens[end-1][1]])
		if end == n {
			break
		}
	}
	return out
}

// CountTokens returns the number of whitespace-separated tokens in text
func CountTokens(text string) int {
	return len(tokenPattern.FindAllStringIndex(text, -1))
}

// line is one line of content with its byte span, excluding the newline
type line struct {
	text       string
	start, end int
}

func splitLines(content string) []line {
	var lines []line
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			lines = append(lines, line{text: content[start:i], start: start, end: i})
			start = i + 1
		}
	}
	if start <= len(content) {
		lines = append(lines, line{text: content[start:], start: start, end: len(content)})
	}
	return lines
}

// isPipeRow reports whether a line can be a table row. Outer pipes are
// optional, so one pipe is enough; tableEnd requires the separator row.
func isPipeRow(s string) bool {
	return strings.Contains(s, "|")
}

// isSeparatorRow reports whether a line is a table header separator
func isSeparatorRow(s string) bool {
	t := strings.TrimSpace(s)
	return separatorPattern.MatchString(t) && strings.Contains(t, "-") && strings.Contains(t, "|")
}

// tableEnd returns the index one past the last row of a table starting at
// line i, or -1 if no table starts there. A table is a pipe row, a separator
// row and at least one more pipe row.
func tableEnd(lines []line, i int) int {
	if i+2 >= len(lines) {
		return -1
	}
	if !isPipeRow(lines[i].text) || !isSeparatorRow(lines[i+1].text) || !isPipeRow(lines[i+2].text) {
		return -1
	}
	j := i + 3
	for j < len(lines) && isPipeRow(lines[j].text) {
		j++
	}
	return j
}

// SplitBlocks partitions content into ordered prose and table blocks
func SplitBlocks(content string) []Block {
	lines := splitLines(content)
	var blocks []Block

	proseStart := -1
	flushProse := func(endLine int) {
		if proseStart < 0 {
			return
		}
		start := lines[proseStart].start
		end := lines[endLine-1].end
		blocks = append(blocks, Block{Text: content[start:end], Start: start, End: end})
		proseStart = -1
	}

	for i := 0; i < len(lines); {
		if end := tableEnd(lines, i); end > 0 {
			flushProse(i)
			start := lines[i].start
			stop := lines[end-1].end
			blocks = append(blocks, Block{Text: content[start:stop], Start: start, End: stop, IsTable: true})
			i = end
			continue
		}
		if proseStart < 0 {
			proseStart = i
		}
		i++
	}
	flushProse(len(lines))

	return blocks
}
