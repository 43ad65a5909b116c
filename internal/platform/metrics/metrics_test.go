package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)

	m.ObserveRequest(http.MethodPost, "/v1/audit/records", http.StatusCreated, 20*time.Millisecond)
	m.ObserveRequest(http.MethodPost, "/v1/audit/records", http.StatusCreated, 30*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`trustledger_http_requests_total{method="POST",route="/v1/audit/records",status="201"} 2`)
	assert.Contains(t, rec.Body.String(), "trustledger_http_request_duration_seconds")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.ObserveRequest(http.MethodGet, "/", 200, time.Second) })
}
