package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RunLifecycle(t *testing.T) {
	r := New()

	r.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsActive))

	r.StepFinished("completed", "")
	r.StepFinished("failed", "UNRESOLVED_REFERENCE")
	r.RunFinished("completed", 2*time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(r.runsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stepsTotal.WithLabelValues("failed", "UNRESOLVED_REFERENCE")))
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.Generation("echo", "ok", 10*time.Millisecond)
	r.GenerationRetried("openai")
	r.HTTPRequest("GET", "200")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, name := range []string{
		"promptflow_generation_duration_seconds",
		"promptflow_generation_retries_total",
		"promptflow_http_requests_total",
		"go_goroutines",
	} {
		assert.True(t, strings.Contains(body, name), "expected %s in exposition", name)
	}
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.RunStarted()
	r.RunFinished("failed", time.Second)
	r.StepFinished("failed", "SERVICE_ERROR")
	r.Generation("echo", "error", time.Second)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
