package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.IncQuestion("rag")
	m.IncQuestion("rag")
	m.IncQuestion("soa")
	m.IncRouteDefault()
	m.IncExtractionFailure("objectives")
	m.IncGenerationFailure()

	out := scrape(t, m)
	assert.Contains(t, out, `protocolqa_engine_questions_total{intent="rag"} 2`)
	assert.Contains(t, out, `protocolqa_engine_questions_total{intent="soa"} 1`)
	assert.Contains(t, out, "protocolqa_router_defaulted_total 1")
	assert.Contains(t, out, `protocolqa_extractor_failures_total{intent="objectives"} 1`)
	assert.Contains(t, out, "protocolqa_composer_generation_failures_total 1")
}

func TestMetrics_IndexBuild(t *testing.T) {
	m := New()
	m.ObserveIndexBuild(time.Second, 42, nil)
	m.ObserveIndexBuild(time.Second, 7, errors.New("boom"))

	out := scrape(t, m)
	assert.Contains(t, out, "protocolqa_indexer_windows 42")
	assert.Contains(t, out, `protocolqa_indexer_build_duration_seconds_count{status="success"} 1`)
	assert.Contains(t, out, `protocolqa_indexer_build_duration_seconds_count{status="error"} 1`)
}

func TestMetrics_Retrieval(t *testing.T) {
	m := New()
	m.ObserveRetrieval(10 * time.Millisecond)
	assert.Contains(t, scrape(t, m), "protocolqa_searcher_retrieval_duration_seconds_count 1")
	assert.NotNil(t, m.Registry())
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncQuestion("rag")
		m.IncRouteDefault()
		m.IncExtractionFailure("soa")
		m.IncGenerationFailure()
		m.ObserveRetrieval(time.Millisecond)
		m.ObserveIndexBuild(time.Millisecond, 1, nil)
	})
	assert.Nil(t, m.Registry())
}
