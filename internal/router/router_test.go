package router

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/protocolqa/internal/generator"
	"github.com/dshills/protocolqa/internal/metrics"
	"github.com/dshills/protocolqa/internal/resilience"
	"github.com/dshills/protocolqa/pkg/types"
)

type mockGenerator struct {
	reply  string
	err    error
	calls  int
	prompt string
	temp   float64
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	m.calls++
	m.prompt = prompt
	m.temp = temperature
	return m.reply, m.err
}

func TestRoute_ValidDecision(t *testing.T) {
	gen := &mockGenerator{reply: "```json\n{\"route\": \"eligibility\", \"reason\": \"asks about inclusion\", \"top_k\": 8}\n```"}
	r := New(gen, nil, nil)

	d := r.Route(context.Background(), "What are the inclusion criteria?")
	assert.Equal(t, types.IntentEligibility, d.Intent)
	assert.Equal(t, "asks about inclusion", d.Reason)
	assert.Equal(t, 8, d.TopK)
	assert.False(t, d.Defaulted)

	assert.Equal(t, 1, gen.calls)
	assert.Zero(t, gen.temp)
	assert.Contains(t, gen.prompt, "Question:\nWhat are the inclusion criteria?")
}

func TestRoute_MalformedOutputDefaults(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"prose", "I think this is about eligibility."},
		{"unknown label", `{"route": "pharmacology", "reason": "x", "top_k": 5}`},
		{"missing route", `{"reason": "x", "top_k": 5}`},
		{"route not string", `{"route": 3, "top_k": 5}`},
		{"zero top_k", `{"route": "soa", "top_k": 0}`},
		{"negative top_k", `{"route": "soa", "top_k": -2}`},
		{"fractional top_k", `{"route": "soa", "top_k": 2.5}`},
		{"string top_k", `{"route": "soa", "top_k": "5"}`},
		{"missing top_k", `{"route": "soa"}`},
		{"truncated", `{"route": "soa", "top_k":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &mockGenerator{reply: tt.reply}
			d := New(gen, nil, nil).Route(context.Background(), "q")

			assert.Equal(t, types.IntentRAG, d.Intent)
			assert.Equal(t, types.DefaultTopK, d.TopK)
			assert.True(t, d.Defaulted)
			assert.Equal(t, 1, gen.calls)
		})
	}
}

func TestRoute_GeneratorErrorDefaultsWithoutRetry(t *testing.T) {
	gen := &mockGenerator{err: errors.New("connection refused")}
	m := metrics.New()

	d := New(gen, m, nil).Route(context.Background(), "q")
	assert.Equal(t, types.IntentRAG, d.Intent)
	assert.True(t, d.Defaulted)
	assert.Equal(t, 1, gen.calls)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "protocolqa_router_defaulted_total 1")
}

func TestRoute_OneBackendCallOnTransientFailure(t *testing.T) {
	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	cfg := resilience.DefaultConfig()
	cfg.RetryInitialBackoff = time.Millisecond
	exec := resilience.NewExecutor(ExecutorConfig(cfg), nil)
	gen := generator.NewResilient(generator.NewOllamaClient(generator.Config{BaseURL: backend.URL}), exec, "route")

	d := New(gen, nil, nil).Route(context.Background(), "Who can enroll?")
	assert.True(t, d.Defaulted)
	assert.Equal(t, types.IntentRAG, d.Intent)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecutorConfig(t *testing.T) {
	cfg := resilience.DefaultConfig()
	single := ExecutorConfig(cfg)
	assert.Equal(t, 1, single.RetryMaxAttempts)
	assert.Equal(t, cfg.BreakerEnabled, single.BreakerEnabled)
	assert.Equal(t, cfg.BreakerOpenTimeout, single.BreakerOpenTimeout)
}

func TestParse(t *testing.T) {
	d, err := Parse(`Here you go: {"route": " Visit_Definitions ", "reason": " timing ", "top_k": 3.0} done`)
	require.NoError(t, err)
	assert.Equal(t, types.IntentVisitDefinitions, d.Intent)
	assert.Equal(t, "timing", d.Reason)
	assert.Equal(t, 3, d.TopK)

	_, err = Parse(`{"route": "nope", "top_k": 1}`)
	assert.ErrorIs(t, err, ErrMalformedDecision)
	assert.ErrorIs(t, err, types.ErrUnknownIntent)
}

func TestParse_EveryLabel(t *testing.T) {
	for _, intent := range types.Intents() {
		d, err := Parse(`{"route": "` + intent.String() + `", "top_k": 5}`)
		require.NoError(t, err, intent.String())
		assert.Equal(t, intent, d.Intent)
	}
}
