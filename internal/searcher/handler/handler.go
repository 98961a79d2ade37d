// Package handler serves the search and rebuild HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/foodsearch/foodsearch/internal/matcher"
	"github.com/foodsearch/foodsearch/internal/rebuild"
	apperrors "github.com/foodsearch/foodsearch/pkg/errors"
	"github.com/foodsearch/foodsearch/pkg/logger"
)

// Searcher is implemented by search.Service.
type Searcher interface {
	Search(ctx context.Context, locale, text string, limit int) (*matcher.Result, error)
	RequestRebuild(locale string) error
	Status(locale string) (rebuild.Status, error)
	Statuses() []rebuild.Status
	InvalidateCache(ctx context.Context, locale string) (int64, error)
}

type Handler struct {
	search Searcher
	logger *slog.Logger
}

func New(search Searcher) *Handler {
	return &Handler{
		search: search,
		logger: slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/rebuild", h.RebuildStatuses)
	mux.HandleFunc("GET /api/v1/rebuild/{locale}", h.RebuildStatus)
	mux.HandleFunc("POST /api/v1/rebuild/{locale}", h.Rebuild)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search serves GET /api/v1/search?locale=&q=&limit=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	locale := params.Get("locale")
	if locale == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_input", "query parameter 'locale' is required")
		return
	}
	if !params.Has("q") {
		h.writeError(w, http.StatusBadRequest, "invalid_input", "query parameter 'q' is required")
		return
	}
	limit := 0
	if s := params.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		limit = n
	}

	res, err := h.search.Search(r.Context(), locale, params.Get("q"), limit)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	logger.FromContext(r.Context()).Info("search completed",
		"locale", locale,
		"version", res.Version,
		"total_hits", res.TotalHits,
		"returned", len(res.Matches),
	)
	h.writeJSON(w, http.StatusOK, res)
}

// RebuildStatuses serves GET /api/v1/rebuild.
func (h *Handler) RebuildStatuses(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"locales": h.search.Statuses()})
}

// RebuildStatus serves GET /api/v1/rebuild/{locale}.
func (h *Handler) RebuildStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.search.Status(r.PathValue("locale"))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// Rebuild serves POST /api/v1/rebuild/{locale}. The rebuild runs
// asynchronously; the response carries the status right after queueing.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	locale := r.PathValue("locale")
	if err := h.search.RequestRebuild(locale); err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	logger.FromContext(r.Context()).Info("rebuild requested over http", "locale", locale)
	st, err := h.search.Status(locale)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, st)
}

// CacheInvalidate serves POST /api/v1/cache/invalidate[?locale=].
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	n, err := h.search.InvalidateCache(r.Context(), r.URL.Query().Get("locale"))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keysDeleted": n})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	code := errorCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(ctx).Error("request failed", "error", err)
		h.writeError(w, status, code, http.StatusText(status))
		return
	}
	h.writeError(w, status, code, err.Error())
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrNoIndex):
		return "no_index"
	case errors.Is(err, apperrors.ErrUnknownLocale):
		return "unknown_locale"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, apperrors.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, apperrors.ErrTimeout):
		return "timeout"
	default:
		return "internal"
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{"error": code, "message": message})
}
