package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/dshills/protocolqa/internal/resilience"
)

// Resilient runs another Generator under retry and a circuit breaker. Every
// failure it returns wraps ErrUnavailable.
type Resilient struct {
	next      Generator
	exec      *resilience.Executor
	operation string
}

// NewResilient wraps next. operation names the breaker, e.g. "generate".
func NewResilient(next Generator, exec *resilience.Executor, operation string) *Resilient {
	return &Resilient{next: next, exec: exec, operation: operation}
}

// Generate implements Generator
func (r *Resilient) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	var out string
	err := r.exec.Execute(ctx, r.operation, func(ctx context.Context) error {
		text, err := r.next.Generate(ctx, prompt, maxTokens, temperature)
		if err != nil {
			return err
		}
		out = text
		return nil
	}, Classify)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return out, nil
}

// Classify decides whether a generation failure is retried and whether it
// counts against the breaker
func Classify(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if statusErr.Retryable() {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

// New creates the configured backend wrapped in a Resilient. A nil exec
// uses resilience.DefaultConfig().
func New(cfg Config, exec *resilience.Executor) (Generator, error) {
	var backend Generator
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOllama:
		backend = NewOllamaClient(cfg)
	case ProviderAnthropic:
		ApplyAPIKey(&cfg)
		client, err := NewAnthropicClient(cfg)
		if err != nil {
			return nil, err
		}
		backend = client
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}

	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultConfig(), nil)
	}
	return NewResilient(backend, exec, "generate"), nil
}

// ApplyAPIKey fills cfg.APIKey from the environment when it is empty
func ApplyAPIKey(cfg *Config) {
	if cfg.APIKey != "" {
		return
	}
	if strings.EqualFold(cfg.Provider, ProviderAnthropic) {
		cfg.APIKey = os.Getenv(EnvAnthropicAPIKey)
	}
}
