package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reservationservice/internal/inventory"
	"reservationservice/internal/ledger"
	"reservationservice/internal/platform/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) (http.Handler, *ledger.Ledger) {
	t.Helper()
	l := ledger.New()
	require.NoError(t, l.Register("X", 10, 2))
	m := metrics.New()
	svc := inventory.NewService(l, zap.NewNop(), noop.NewTracerProvider().Tracer("test"), m, time.Minute)
	return NewRouter(svc, m), l
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouterHealth(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouterStock(t *testing.T) {
	h, l := newTestRouter(t)
	_, err := l.Reserve("X", 4, "r1", time.Minute)
	require.NoError(t, err)

	rec := get(t, h, "/stock/X")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sku":"X","available":6,"low_stock_threshold":2}`, rec.Body.String())

	rec = get(t, h, "/stock/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterReservation(t *testing.T) {
	h, l := newTestRouter(t)
	_, err := l.Reserve("X", 3, "r1", time.Minute)
	require.NoError(t, err)
	_, err = l.Commit("r1")
	require.NoError(t, err)

	rec := get(t, h, "/reservations/r1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body reservationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "r1", body.ID)
	assert.Equal(t, "committed", body.State)
	assert.Equal(t, 3, body.Quantity)
	assert.False(t, body.ClosedAt.IsZero())

	assert.Equal(t, http.StatusNotFound, get(t, h, "/reservations/nope").Code)
}

func TestRouterMetrics(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
