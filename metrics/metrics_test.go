package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingCounters(t *testing.T) {
	m := New()
	m.RecordingStarted()
	m.RecordingStarted()
	m.RecordingFinished(false)
	m.RecordingFinished(true)
	m.RecordingSetupFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordingsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordingsCompleted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordingsFailed))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRecordings))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncRequests()
		m.RecordingStarted()
		m.RecordingFinished(true)
		m.IncJobPolls()
		m.IncGenerationJobs("Succeeded")
	})
}

func TestRequestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(RequestMiddleware(m))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	for _, path := range []string{"/ok", "/bad", "/ok"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", path, nil)
		r.ServeHTTP(w, req)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.requestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "canvascast_requests_total 3")
}
