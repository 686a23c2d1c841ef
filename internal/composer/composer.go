// Package composer turns retrieval hits into a grounded answer.
package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dshills/protocolqa/internal/generator"
	"github.com/dshills/protocolqa/internal/metrics"
	"github.com/dshills/protocolqa/pkg/types"
)

// NotFoundText is the answer given when retrieval returned nothing
const NotFoundText = "Not found in provided context."

// ErrGenerationUnavailable is returned when the generator failed or timed out
var ErrGenerationUnavailable = errors.New("answer generation unavailable")

// Config controls context assembly and generation
type Config struct {
	MaxContextChars int           `yaml:"max_context_chars"`
	MaxTokens       int           `yaml:"max_tokens"`
	Temperature     float64       `yaml:"temperature"`
	Timeout         time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default composer settings
func DefaultConfig() Config {
	return Config{
		MaxContextChars: 4000,
		MaxTokens:       1024,
		Temperature:     0.1,
		Timeout:         60 * time.Second,
	}
}

// Answer is the composed response to one question
type Answer struct {
	Text     string
	NotFound bool
	Context  string // Context blocks sent to the generator
	Blocks   int    // Number of hits that fit the context budget
	Hits     []types.RetrievalHit
}

// Composer builds prompts from hits and calls the generator
type Composer struct {
	gen     generator.Generator
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Composer. Zero config fields take their defaults; m and
// logger may be nil.
func New(gen generator.Generator, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Composer {
	def := DefaultConfig()
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = def.MaxContextChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{gen: gen, cfg: cfg, metrics: m, logger: logger}
}

// Answer composes an answer from hits in rank order. With no hits it
// returns the not-found answer without calling the generator. When
// generation fails the returned Answer still carries the hits and context
// alongside an error wrapping ErrGenerationUnavailable.
func (c *Composer) Answer(ctx context.Context, question string, hits []types.RetrievalHit) (*Answer, error) {
	if len(hits) == 0 {
		return &Answer{Text: NotFoundText, NotFound: true, Hits: []types.RetrievalHit{}}, nil
	}

	contextText, blocks := BuildContext(hits, c.cfg.MaxContextChars)
	answer := &Answer{Context: contextText, Blocks: blocks, Hits: hits}

	genCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	text, err := c.gen.Generate(genCtx, BuildPrompt(contextText, question), c.cfg.MaxTokens, c.cfg.Temperature)
	if err != nil {
		c.metrics.IncGenerationFailure()
		c.logger.Warn("answer generation failed", "error", err, "hits", len(hits))
		return answer, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}

	answer.Text = strings.TrimSpace(text)
	return answer, nil
}

// Block formats one hit as a context block
func Block(hit types.RetrievalHit) string {
	if hit.Window == nil {
		return ""
	}
	return "[" + hit.Window.Title + "]\n" + hit.Window.Text
}

// BuildContext accumulates blocks in rank order until the next one would
// push the total past maxChars. Blocks are joined by a blank line; the
// separators are not counted. It returns the context and the number of
// blocks used.
func BuildContext(hits []types.RetrievalHit, maxChars int) (string, int) {
	blocks := make([]string, 0, len(hits))
	total := 0
	for _, hit := range hits {
		block := Block(hit)
		if block == "" {
			continue
		}
		n := utf8.RuneCountInString(block)
		if total+n > maxChars {
			break
		}
		blocks = append(blocks, block)
		total += n
	}
	return strings.Join(blocks, "\n\n"), len(blocks)
}

// BuildPrompt returns the grounded answering prompt
func BuildPrompt(contextText, question string) string {
	return fmt.Sprintf(`You are a clinical trial protocol analysis expert.
Use ONLY the context below to answer the question. If the answer is not in the context, say "%s"

Context:
"""
%s
"""

Question: %s

Answer:
`, NotFoundText, contextText, question)
}
