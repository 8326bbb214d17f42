package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("lexrag_test")

	m.CountAnswer("answered")
	m.CountAnswer("answered")
	m.CountCacheLookup(true)
	m.CountCacheLookup(false)
	m.CountUpstreamFailure("embedding")
	m.CountBackgroundError("persist-turns")
	m.CountTruncation()
	m.SetCacheEntries(42)
	m.ObserveStage("retrieval", 120*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Answers.WithLabelValues("answered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamFailures.WithLabelValues("embedding")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.CacheEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContextTruncated))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics("lexrag_a")
		NewMetrics("lexrag_a")
	})
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.CountAnswer("x")
		m.CountCacheLookup(true)
		m.ObserveStage("x", time.Second)
		m.SetCacheEntries(1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("lexrag_http")
	m.CountAnswer("no_sources")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `lexrag_http_answers_total{outcome="no_sources"} 1`)
}
