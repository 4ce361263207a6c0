package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"task-orchestrator/internal/infra/api/apiv1"
	"task-orchestrator/internal/infra/logging"
	"task-orchestrator/internal/infra/metrics"
)

// HealthFunc reports whether a dependency is usable.
type HealthFunc func(ctx context.Context) error

// Server is the process HTTP surface: /api/v1, /health and /metrics.
type Server struct {
	srv    *http.Server
	log    *zerolog.Logger
	checks map[string]HealthFunc
}

// NewServer mounts the v1 API behind the request guards.
func NewServer(port int, requestTimeout time.Duration, v1 apiv1.ServerInterface, logger *zerolog.Logger) *Server {
	s := &Server{
		log:    logging.Component(logger, "HTTPServer"),
		checks: map[string]HealthFunc{},
	}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	apiv1.RegisterAPIV1(r, v1)

	handler := Chain(r, TraceID(), Recover(s.log), RequestLog(s.log), Timeout(requestTimeout))
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// AddHealthCheck registers a named check reported by /health.
func (s *Server) AddHealthCheck(name string, fn HealthFunc) *Server {
	s.checks[name] = fn
	return s
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body[name] = err.Error()
			continue
		}
		body[name] = "ok"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
