package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storygate/internal/access"
	"github.com/roach88/storygate/internal/catalog"
	"github.com/roach88/storygate/internal/story"
)

func TestObserver(t *testing.T) {
	m := New()

	m.ObserveDecision(access.Decision{Outcome: access.Reveal, Method: story.MethodFree})
	m.ObserveDecision(access.Decision{Outcome: access.RequireAdThenReveal})
	m.ObserveDecision(access.Decision{Outcome: access.RequireAdThenReveal})
	m.ObserveFailure(access.KindWrite)
	m.ObserveGrant(true)
	m.ObserveGrant(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("reveal", "free")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("require_ad", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("WRITE_FAILURE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.grants.WithLabelValues("earned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.grants.WithLabelValues("declined")))
}

func TestObserveGeneration(t *testing.T) {
	m := New()
	m.ObserveGeneration(catalog.Result{Date: "2024-01-01", Total: 5, Inserted: 5})
	m.ObserveGeneration(catalog.Result{Date: "2024-01-01", Total: 5, Inserted: 0})

	assert.Equal(t, 5.0, testutil.ToFloat64(m.generated.WithLabelValues("inserted")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.generated.WithLabelValues("skipped")))
}

func TestInstrumentHandler_UsesRouteTemplate(t *testing.T) {
	m := New()
	r := mux.NewRouter()
	r.Use(m.InstrumentHandler)
	r.HandleFunc("/v1/stories/{id}/open", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods(http.MethodPost)
	r.Handle("/metrics", m.Handler())

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/stories/"+id+"/open", nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/v1/stories/{id}/open", "418")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "storygate_http_requests_total"))
}
