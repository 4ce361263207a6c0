package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"task-orchestrator/internal/infra/api/apiv1"
	"task-orchestrator/internal/infra/logging"
)

// stubV1 answers every route with 204; GetRun panics on id "boom".
type stubV1 struct{}

func (stubV1) SubmitTask(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }
func (stubV1) ControlRun(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }
func (stubV1) ListRuns(w http.ResponseWriter, r *http.Request, _ apiv1.ListRunsParams) {
	w.WriteHeader(http.StatusNoContent)
}
func (stubV1) GetRun(w http.ResponseWriter, r *http.Request, id string) {
	if id == "boom" {
		panic("kaboom")
	}
	if _, ok := r.Context().Deadline(); !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
func (stubV1) GetRunEvents(w http.ResponseWriter, r *http.Request, id string) {
	w.WriteHeader(http.StatusNoContent)
}
func (stubV1) SubmitJob(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }
func (stubV1) GetJobStatus(w http.ResponseWriter, r *http.Request, _ apiv1.GetJobStatusParams) {
	w.WriteHeader(http.StatusNoContent)
}

func serve(t *testing.T, s *Server, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthReportsChecks(t *testing.T) {
	s := NewServer(0, time.Second, stubV1{}, logging.Nop())
	if rec := serve(t, s, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	s.AddHealthCheck("store", func(ctx context.Context) error { return errors.New("disk gone") })
	rec := serve(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "disk gone") {
		t.Fatalf("want 503 with cause, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestServer_MetricsExposed(t *testing.T) {
	s := NewServer(0, time.Second, stubV1{}, logging.Nop())
	rec := serve(t, s, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestServer_TraceIDEchoed(t *testing.T) {
	s := NewServer(0, time.Second, stubV1{}, logging.Nop())
	rec := serve(t, s, http.MethodGet, "/api/v1/runs", map[string]string{TraceHeader: "abc-123"})
	if got := rec.Header().Get(TraceHeader); got != "abc-123" {
		t.Fatalf("trace id not echoed: %q", got)
	}
	rec = serve(t, s, http.MethodGet, "/api/v1/runs", nil)
	if rec.Header().Get(TraceHeader) == "" {
		t.Fatal("trace id not minted")
	}
}

func TestServer_RecoverAndTimeout(t *testing.T) {
	s := NewServer(0, time.Second, stubV1{}, logging.Nop())
	rec := serve(t, s, http.MethodGet, "/api/v1/runs/boom", nil)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "internal") {
		t.Fatalf("panic not recovered: %d %s", rec.Code, rec.Body.String())
	}
	if rec := serve(t, s, http.MethodGet, "/api/v1/runs/r1", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected request deadline to be set, got %d", rec.Code)
	}
}
