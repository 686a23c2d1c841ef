package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrUnavailable is wrapped around every failure to obtain generated text
var ErrUnavailable = errors.New("generation unavailable")

// ErrUnsupportedProvider is returned by New for unknown providers
var ErrUnsupportedProvider = errors.New("unsupported generation provider")

// Generator produces text from a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// Supported providers
const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

// Defaults
const (
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultOllamaModel    = "llama3.1"
	DefaultAnthropicURL   = "https://api.anthropic.com"
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	DefaultTimeout        = 120 * time.Second

	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
)

// Config selects and configures a generation backend
type Config struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"-"`
	Timeout  time.Duration `yaml:"timeout"`
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// HTTPStatusError is a non-2xx response from a generation backend
type HTTPStatusError struct {
	Backend    string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s status: %s", e.Backend, e.Status)
	}
	return fmt.Sprintf("%s status: %s: %s", e.Backend, e.Status, Truncate(body, 200))
}

// Retryable reports whether the status is worth retrying
func (e *HTTPStatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return e.StatusCode == 529 // Anthropic "overloaded"
	}
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json|JSON)?\\s*(.*?)\\s*```$")

// StripCodeBlock removes a Markdown code fence wrapping the whole of s
func StripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

// ExtractJSONObject strips code fences and returns the span from the first
// '{' to the last '}'. Without such a span the stripped text is returned.
func ExtractJSONObject(raw string) string {
	raw = StripCodeBlock(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

// Truncate cuts s to at most n bytes on a rune boundary and marks the cut
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
