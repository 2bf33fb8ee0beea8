package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init() // second call must not re-register collectors

	// Exercising the observers after double-init must not panic.
	ObserveFetch(200, false)
	ObserveFetch(503, true)
	ObserveRejection("fetch", "TIMEOUT")
	ObservePersist("web")
	ObserveScorerCall("primary", "ok")
	SetFrontierDepth("run-1", 12)
	DropFrontierDepth("run-1")
	IncActiveWorkers()
	DecActiveWorkers()
	ObserveHeadlessPromotion()
	ObserveReseed("allowed")
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	ObserveFetch(200, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "patchcrawl_pages_fetched_total")
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "3xx", statusClass(301))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(502))
	assert.Equal(t, "error", statusClass(0))
}
