package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewIsSingleton(t *testing.T) {
	assert.Same(t, New(), New())
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.SetActiveRooms("document", 3)
	m.RecordEvent("changes")
	m.RecordDeliveries("room", 2)
	m.RecordSlowClient()
	m.RecordRateLimited()
	m.RecordPanic()
	m.RecordPersist(nil)
	m.RecordCoalesced()
	m.RecordCluster("out")
}

func TestRecordPersistLabelsResult(t *testing.T) {
	m := New()
	okBefore := testutil.ToFloat64(m.PersistWrites.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(m.PersistWrites.WithLabelValues("error"))

	m.RecordPersist(nil)
	m.RecordPersist(errors.New("boom"))
	m.RecordPersist(errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(m.PersistWrites.WithLabelValues("ok")))
	assert.Equal(t, errBefore+2, testutil.ToFloat64(m.PersistWrites.WithLabelValues("error")))
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/items/{id}", "418"))

	for _, path := range []string{"/api/items/1", "/api/items/2"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusTeapot, w.Code)
	}

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/items/{id}", "418"))
	assert.Equal(t, before+2, after)
}
