package analytics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/foodsearch/foodsearch/pkg/logger"
)

// MaxTopQueries caps the ranking length a client may ask for.
const MaxTopQueries = 100

// Handler serves the aggregate over HTTP.
type Handler struct {
	aggregator *Aggregator
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{aggregator: aggregator}
}

// Stats serves GET /api/v1/analytics[?locale=xx][&top=n]. Locales with no
// recorded traffic yield an empty locale list, not an error.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	top, err := parseTop(q.Get("top"))
	if err != nil {
		h.write(w, r, http.StatusBadRequest, map[string]string{"error": "invalid_input", "message": err.Error()})
		return
	}
	stats := h.aggregator.StatsTop(q.Get("locale"), top)
	w.Header().Set("Cache-Control", "no-store")
	h.write(w, r, http.StatusOK, stats)
}

func parseTop(raw string) (int, error) {
	if raw == "" {
		return DefaultTopQueries, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > MaxTopQueries {
		return 0, fmt.Errorf("top must be an integer between 1 and %d", MaxTopQueries)
	}
	return n, nil
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.FromContext(r.Context()).Error("failed to write analytics response", "component", "analytics-handler", "error", err)
	}
}
