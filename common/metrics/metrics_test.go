package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLocation(t *testing.T) {
	m := New("labstore")

	m.RecordLocation("store", "primary", "written")
	m.RecordLocation("store", "primary", "written")
	m.RecordLocation("store", "staging", "failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StorageOps.WithLabelValues("store", "primary", "written")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageOps.WithLabelValues("store", "staging", "failed")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New("labstore")
	m.ObserveStorage("store", time.Now())
	m.RecordHTTPRequest(http.MethodGet, "/api/v1/categories", http.StatusOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "labstore_storage_operation_duration_seconds")
	assert.Contains(t, body, `labstore_http_requests_total{method="GET",path="/api/v1/categories",status_code="200"} 1`)
	assert.Contains(t, body, "labstore_host_info")
}

func TestSeparateInstancesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New("labstore")
		New("labstore")
	})
}
