package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered returns the value of the named counter or gauge series.
func gathered(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			if len(metric.GetLabel()) != len(labels) {
				continue
			}
			for _, l := range metric.GetLabel() {
				if labels[l.GetName()] != l.GetValue() {
					continue next
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}

func TestMetricsAreIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.AddFragmentsExtracted(3)
	a.RecordFragmentError("parse")
	a.RecordFragmentExecuted(4)
	a.RecordBatch(5 * time.Millisecond)
	a.SetSessionsActive(2)

	assert.Equal(t, float64(3), gathered(t, a, "uiblocks_fragments_extracted_total", nil))
	assert.Equal(t, float64(1), gathered(t, a, "uiblocks_fragment_errors_total", map[string]string{"stage": "parse"}))
	assert.Equal(t, float64(4), gathered(t, a, "uiblocks_intrinsic_calls_total", nil))
	assert.Equal(t, float64(2), gathered(t, a, "uiblocks_sessions_active", nil))
	assert.Equal(t, float64(0), gathered(t, b, "uiblocks_fragments_extracted_total", nil))

	snap := a.Snapshot()
	assert.Equal(t, int64(3), snap.FragmentsExtracted)
	assert.Equal(t, int64(1), snap.FragmentsExecuted)
	assert.Equal(t, int64(1), snap.FragmentErrors)
	assert.Equal(t, int64(1), snap.Batches)
	assert.Equal(t, int64(2), snap.ActiveSessions)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AddFragmentsExtracted(1)
		m.RecordFragmentError("lex")
		m.RecordFragmentExecuted(0)
		m.RecordBatch(time.Millisecond)
		m.SetSessionsActive(1)
		m.SetSessionsAwaiting(1)
		m.RecordWSMessage("in", "text")
		m.IncWSConnections()
		m.DecWSConnections()
	})
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m, "/stream"))
	router.GET("/sessions/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/stream", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stream", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, float64(1), gathered(t, m, "uiblocks_http_requests_total",
		map[string]string{"method": "GET", "path": "/sessions/:id", "status": "404"}))
	assert.Equal(t, int64(1), m.Snapshot().TotalErrors)
}
