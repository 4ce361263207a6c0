package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"task-orchestrator/internal/domain"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/infra/logging"
	"task-orchestrator/internal/usecase"
)

// JobService is the queue surface exposed over HTTP.
type JobService interface {
	Submit(ctx context.Context, jobType string, payload json.RawMessage, maxAttempts int) (string, error)
	Status(ctx context.Context, id string) (*model.Job, error)
}

// SubmitLimiter throttles task submission per key.
type SubmitLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Server struct {
	tasks     usecase.TaskUseCase
	jobs      JobService
	limiter   SubmitLimiter
	perMinute int
	keyFn     func(addr string) string
	log       *zerolog.Logger
}

var _ ServerInterface = (*Server)(nil)

func NewServer(tasks usecase.TaskUseCase, jobs JobService, logger *zerolog.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{tasks: tasks, jobs: jobs, log: logger}
}

// WithRateLimit enables per-address throttling of task submission.
// A perMinute of zero or less disables it.
func (s *Server) WithRateLimit(l SubmitLimiter, perMinute int, keyFn func(addr string) string) *Server {
	if l == nil || perMinute <= 0 {
		return s
	}
	s.limiter = l
	s.perMinute = perMinute
	s.keyFn = keyFn
	return s
}

func (s *Server) SubmitTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.allow(ctx, r.RemoteAddr); err != nil {
		s.writeError(ctx, w, err)
		return
	}

	var req SubmitTaskRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if req.WaitTimeoutMs < 0 {
		s.writeError(ctx, w, fmt.Errorf("%w: waitTimeoutMs must not be negative", domain.ErrInvalidArgument))
		return
	}

	res, err := s.tasks.Submit(ctx, usecase.SubmitRequest{
		Task:        req.Task,
		DryRun:      req.DryRun,
		Async:       req.Async,
		WaitTimeout: time.Duration(req.WaitTimeoutMs) * time.Millisecond,
		Context:     req.Context,
	})
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if res.Accepted {
		writeJSON(w, http.StatusAccepted, AcceptedResponse{
			RunId:    res.Run.ID,
			Status:   res.Run.Status(),
			RunState: res.Run.RunState,
		})
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(res.Run))
}

func (s *Server) ControlRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ControlRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.RunId) == "" {
		s.writeError(ctx, w, fmt.Errorf("%w: runId is required", domain.ErrInvalidArgument))
		return
	}
	run, err := s.tasks.Control(logging.WithRunID(ctx, req.RunId), req.RunId, req.Action)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(run))
}

func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request, params ListRunsParams) {
	ctx := r.Context()
	if params.Limit != nil && *params.Limit < 0 {
		s.writeError(ctx, w, fmt.Errorf("%w: limit must not be negative", domain.ErrInvalidArgument))
		return
	}
	runs, err := s.tasks.List(ctx)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	items := make([]*model.TaskRun, 0, len(runs))
	for _, run := range runs {
		if params.State != nil && *params.State != "" && string(run.RunState) != *params.State {
			continue
		}
		items = append(items, run)
	}
	// newest last; a limit keeps the most recent runs
	if params.Limit != nil && *params.Limit > 0 && len(items) > *params.Limit {
		items = items[len(items)-*params.Limit:]
	}
	writeJSON(w, http.StatusOK, RunList{Items: items})
}

func (s *Server) GetRun(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	run, err := s.tasks.Get(ctx, id)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) GetRunEvents(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	evs, err := s.tasks.Events(ctx, id)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if evs == nil {
		evs = []model.RunEvent{}
	}
	writeJSON(w, http.StatusOK, EventList{Items: evs})
}

func (s *Server) SubmitJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req SubmitJobRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if req.MaxAttempts < 0 {
		s.writeError(ctx, w, fmt.Errorf("%w: maxAttempts must not be negative", domain.ErrInvalidArgument))
		return
	}
	id, err := s.jobs.Submit(ctx, strings.TrimSpace(req.Type), req.Payload, req.MaxAttempts)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, JobAccepted{JobId: id})
}

func (s *Server) GetJobStatus(w http.ResponseWriter, r *http.Request, params GetJobStatusParams) {
	ctx := r.Context()
	job, err := s.jobs.Status(logging.WithJobID(ctx, params.Id), params.Id)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, JobStatusResponse{Job: job})
}

func (s *Server) allow(ctx context.Context, remoteAddr string) error {
	if s.limiter == nil {
		return nil
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	key := host
	if s.keyFn != nil {
		key = s.keyFn(host)
	}
	ok, err := s.limiter.Allow(ctx, key, s.perMinute, time.Minute)
	if err != nil {
		// fail open; the limiter is best effort
		l := logging.With(ctx, s.log)
		l.Warn().Err(err).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return fmt.Errorf("%w: request body is required", domain.ErrInvalidArgument)
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		l := logging.With(ctx, s.log)
		l.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrInvalidAction):
		return http.StatusBadRequest, "invalid_action"
	case errors.Is(err, domain.ErrUnknownCapability):
		return http.StatusBadRequest, "unknown_capability"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrNothingToRetry):
		return http.StatusConflict, "nothing_to_retry"
	case errors.Is(err, domain.ErrAttemptsExhausted):
		return http.StatusConflict, "attempts_exhausted"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, domain.ErrQueueFull), errors.Is(err, domain.ErrQueueStopped):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
