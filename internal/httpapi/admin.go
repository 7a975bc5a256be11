package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openlane-dev/freegate/internal/state"
)

// Admin surface: read-only state/metrics/rate-limit introspection plus a
// single mutating reset operation, each a thin translation over the core
// components' own read methods.

func (s *Server) handleAdminState(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleAdminStateByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	st, err := s.store.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Validation", "no state recorded for model "+name, nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAdminResetState(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.breaker.Reset(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminRateLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_buckets": s.rateLimiter.BucketCount(),
	})
}

func (s *Server) handleAdminMetrics(w http.ResponseWriter, r *http.Request) {
	s.metricsHandler.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
