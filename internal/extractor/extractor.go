// Package extractor turns protocol sections into typed structured data for
// the non-retrieval intents.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/protocolqa/internal/generator"
	"github.com/dshills/protocolqa/internal/metrics"
	"github.com/dshills/protocolqa/pkg/types"
)

// ErrNoExtractor is returned for intents without a structured extractor
var ErrNoExtractor = errors.New("no extractor for intent")

// definition binds an intent to its prompt, schema and result type
type definition struct {
	targetQuery string
	prompt      string
	schema      []field
	decode      func(payload []byte) (any, error)
}

// definitions is indexed by intent. IntentRAG has no extractor.
var definitions = [...]*definition{
	types.IntentRAG: nil,
	types.IntentObjectives: {
		targetQuery: objectivesQuery,
		prompt:      objectivesPrompt,
		schema:      objectivesSchema,
		decode:      decodeAs[Objectives],
	},
	types.IntentEligibility: {
		targetQuery: eligibilityQuery,
		prompt:      eligibilityPrompt,
		schema:      eligibilitySchema,
		decode:      decodeAs[Eligibility],
	},
	types.IntentScheduleOfActivities: {
		targetQuery: scheduleQuery,
		prompt:      schedulePrompt,
		schema:      scheduleSchema,
		decode:      decodeAs[ScheduleOfActivities],
	},
	types.IntentVisitDefinitions: {
		targetQuery: visitDefinitionsQuery,
		prompt:      visitDefinitionsPrompt,
		schema:      visitDefinitionsSchema,
		decode:      decodeAs[VisitDefinitions],
	},
	types.IntentKeyAssessments: {
		targetQuery: keyAssessmentsQuery,
		prompt:      keyAssessmentsPrompt,
		schema:      keyAssessmentsSchema,
		decode:      decodeAs[KeyAssessments],
	},
}

// Fails to compile unless definitions has exactly one slot per intent
var _ = [1]struct{}{}[len(definitions)-int(types.NumIntents)]

// normalizer is implemented by every result type
type normalizer interface {
	normalize()
}

// decodeAs decodes an already validated payload into T and replaces nil
// lists with empty ones
func decodeAs[T any, PT interface {
	*T
	normalizer
}](payload []byte) (any, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	PT(&out).normalize()
	return &out, nil
}

func lookup(intent types.Intent) (*definition, error) {
	if !intent.Valid() || definitions[intent] == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoExtractor, intent)
	}
	return definitions[intent], nil
}

// TargetQuery returns the retrieval query used to select context for intent
func TargetQuery(intent types.Intent) (string, error) {
	def, err := lookup(intent)
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(def.targetQuery), " "), nil
}

// Result is the typed output of one extraction. Data is one of *Objectives,
// *Eligibility, *ScheduleOfActivities, *VisitDefinitions or *KeyAssessments.
type Result struct {
	Intent types.Intent
	Data   any
}

// Config controls generation for extraction calls
type Config struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// DefaultConfig returns the default extraction settings
func DefaultConfig() Config {
	return Config{MaxTokens: 4096, Temperature: 0.1}
}

// Service runs extractions through a generator
type Service struct {
	gen     generator.Generator
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Service. m and logger may be nil.
func New(gen generator.Generator, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Service {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gen: gen, cfg: cfg, metrics: m, logger: logger}
}

// Extract prompts the generator with content and validates its output.
// Output that does not fit the schema yields a *SchemaViolationError;
// generator failures are returned wrapped as they are.
func (s *Service) Extract(ctx context.Context, intent types.Intent, content string) (*Result, error) {
	def, err := lookup(intent)
	if err != nil {
		return nil, err
	}

	prompt := strings.Replace(def.prompt, "{{content}}", content, 1)
	raw, err := s.gen.Generate(ctx, prompt, s.cfg.MaxTokens, s.cfg.Temperature)
	if err != nil {
		s.metrics.IncExtractionFailure(intent.String())
		return nil, fmt.Errorf("%s extraction: %w", intent, err)
	}

	data, err := Parse(intent, raw)
	if err != nil {
		s.metrics.IncExtractionFailure(intent.String())
		s.logger.Warn("extraction output rejected", "intent", intent.String(), "error", err)
		return nil, err
	}
	return &Result{Intent: intent, Data: data}, nil
}

// Parse validates raw model output for intent and decodes it into the
// intent's result type
func Parse(intent types.Intent, raw string) (any, error) {
	def, err := lookup(intent)
	if err != nil {
		return nil, err
	}

	violationErr := func(path, reason string) error {
		return &SchemaViolationError{Intent: intent.String(), Path: path, Reason: reason, Raw: generator.Truncate(raw, 500)}
	}

	payload := []byte(generator.ExtractJSONObject(raw))
	var generic any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return nil, violationErr("$", "invalid JSON: "+err.Error())
	}
	if v := validateObject("$", generic, def.schema); v != nil {
		return nil, violationErr(v.path, v.reason)
	}

	data, err := def.decode(payload)
	if err != nil {
		return nil, violationErr("$", err.Error())
	}
	return data, nil
}
