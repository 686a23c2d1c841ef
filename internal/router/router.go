// Package router classifies a question into a retrieval or extraction intent.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/dshills/protocolqa/internal/generator"
	"github.com/dshills/protocolqa/internal/metrics"
	"github.com/dshills/protocolqa/internal/resilience"
	"github.com/dshills/protocolqa/pkg/types"
)

// ErrMalformedDecision is returned by Parse for output that cannot be used
var ErrMalformedDecision = errors.New("malformed route decision")

// routeMaxTokens bounds the classifier output; a decision is a few dozen tokens
const routeMaxTokens = 256

// ExecutorConfig returns cfg limited to a single attempt per call. The
// classifier generator must be built on an executor with this config so a
// question costs exactly one classification call; the breaker still applies.
func ExecutorConfig(cfg resilience.Config) resilience.Config {
	cfg.RetryMaxAttempts = 1
	return cfg
}

// Router asks the generator for a route and never fails
type Router struct {
	gen     generator.Generator
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Router. m and logger may be nil.
func New(gen generator.Generator, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{gen: gen, metrics: m, logger: logger}
}

// Route makes exactly one generator call at temperature 0. Any failure,
// whether from the generator or the output, yields types.DefaultRoute.
func (r *Router) Route(ctx context.Context, question string) types.RouteDecision {
	raw, err := r.gen.Generate(ctx, Prompt(question), routeMaxTokens, 0)
	if err != nil {
		return r.fallback("generator error", err)
	}

	decision, err := Parse(raw)
	if err != nil {
		return r.fallback("unparseable output", err)
	}
	return decision
}

func (r *Router) fallback(reason string, err error) types.RouteDecision {
	r.metrics.IncRouteDefault()
	r.logger.Warn("route defaulted", "reason", reason, "error", err)
	return types.DefaultRoute("fallback: " + reason)
}

// Parse decodes classifier output. Code fences and text around the first
// JSON object are ignored. The route must be a known label and top_k a
// positive integer.
func Parse(raw string) (types.RouteDecision, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(generator.ExtractJSONObject(raw)), &data); err != nil {
		return types.RouteDecision{}, fmt.Errorf("%w: %w", ErrMalformedDecision, err)
	}

	label, ok := data["route"].(string)
	if !ok {
		return types.RouteDecision{}, fmt.Errorf("%w: route missing or not a string", ErrMalformedDecision)
	}
	intent, err := types.ParseIntent(label)
	if err != nil {
		return types.RouteDecision{}, fmt.Errorf("%w: %w", ErrMalformedDecision, err)
	}

	topK, ok := positiveInt(data["top_k"])
	if !ok {
		return types.RouteDecision{}, fmt.Errorf("%w: top_k must be a positive integer, got %v", ErrMalformedDecision, data["top_k"])
	}

	reason, _ := data["reason"].(string)
	return types.RouteDecision{
		Intent: intent,
		Reason: strings.TrimSpace(reason),
		TopK:   topK,
	}, nil
}

// positiveInt accepts JSON numbers with no fractional part above zero
func positiveInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f < 1 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
