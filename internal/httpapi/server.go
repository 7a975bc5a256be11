package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openlane-dev/freegate/internal/breaker"
	"github.com/openlane-dev/freegate/internal/ratelimit"
	"github.com/openlane-dev/freegate/internal/router"
	"github.com/openlane-dev/freegate/internal/state"
)

// Server wires the Router and its components to HTTP. It carries no
// routing logic itself — every decision is delegated to internal/router.
type Server struct {
	router         *router.Router
	store          state.Store
	breaker        *breaker.Breaker
	rateLimiter    *ratelimit.Limiter
	metricsHandler http.Handler
	defaults       router.Options
	logger         *zap.Logger
}

// New builds the chi-backed HTTP handler. defaults seeds per-request
// Options for fields the request body omits.
func New(
	r *router.Router,
	store state.Store,
	br *breaker.Breaker,
	rl *ratelimit.Limiter,
	defaults router.Options,
	logger *zap.Logger,
) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:         r,
		store:          store,
		breaker:        br,
		rateLimiter:    rl,
		metricsHandler: promhttp.Handler(),
		defaults:       defaults,
		logger:         logger.With(zap.String("component", "httpapi")),
	}
	return s.routes()
}

func (s *Server) routes() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(requestIDMiddleware)
	mux.Use(s.loggingMiddleware)

	mux.Post("/api/v1/chat/completions", s.handleChatCompletions)

	mux.Route("/admin", func(r chi.Router) {
		r.Get("/state", s.handleAdminState)
		r.Get("/state/{name}", s.handleAdminStateByName)
		r.Post("/state/{name}/reset", s.handleAdminResetState)
		r.Get("/rate-limits", s.handleAdminRateLimits)
		r.Get("/metrics", s.handleAdminMetrics)
	})

	return mux
}

type requestIDKey struct{}

// requestIDMiddleware stamps every request with a uuid, returned in the
// X-Request-Id response header and carried in the request context for the
// access log line.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		id, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
