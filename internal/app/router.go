package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"reservationservice/internal/inventory"
	"reservationservice/internal/ledger"
	"reservationservice/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type stockResponse struct {
	SKU               string `json:"sku"`
	Available         int    `json:"available"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

type reservationResponse struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	Quantity  int       `json:"quantity"`
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
	ClosedAt  time.Time `json:"closed_at,omitzero"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter builds the ops HTTP surface: health, metrics and read-only
// ledger lookups.
func NewRouter(service *inventory.Service, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Get("/stock/{sku}", func(w http.ResponseWriter, req *http.Request) {
		rec, err := service.Stock(req.Context(), chi.URLParam(req, "sku"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stockResponse{
			SKU:               rec.SKU,
			Available:         rec.Available,
			LowStockThreshold: rec.LowStockThreshold,
		})
	})

	r.Get("/reservations/{id}", func(w http.ResponseWriter, req *http.Request) {
		res, err := service.Reservation(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reservationResponse{
			ID:        res.ID,
			SKU:       res.SKU,
			Quantity:  res.Quantity,
			State:     string(res.State),
			ExpiresAt: res.ExpiresAt,
			ClosedAt:  res.ClosedAt,
		})
	})

	return r
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ledger.ErrUnknownSKU) || errors.Is(err, ledger.ErrUnknownReservation) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
