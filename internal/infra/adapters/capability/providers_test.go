package capability_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/adapter"
	"task-orchestrator/internal/infra/adapters/capability"
)

func imageReq(prompt string) adapter.CapabilityRequest {
	return adapter.CapabilityRequest{
		Capability: model.CapabilityImage,
		Input:      map[string]any{"prompt": prompt, "width": 2048, "height": 100},
	}
}

func TestLocalMedia_ImageFromBackend(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sdapi/v1/txt2img" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"images":["aGVsbG8="]}`))
	}))
	defer srv.Close()

	p := capability.NewLocalMediaProvider(srv.URL, time.Second)
	res, err := p.Invoke(context.Background(), imageReq("a red fox"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Fallback {
		t.Fatal("backend answer must not be a fallback")
	}
	var out capability.MediaOutput
	_ = json.Unmarshal(res.Output, &out)
	if out.URL != "data:image/png;base64,aGVsbG8=" || out.Width != 1024 || out.Height != 256 {
		t.Fatalf("unexpected output %+v", out)
	}
	if got["width"].(float64) != 1024 || got["steps"].(float64) != 24 {
		t.Fatalf("unexpected request body %v", got)
	}
}

func TestLocalMedia_UnavailableFallsBackDeterministically(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := capability.NewLocalMediaProvider(srv.URL, time.Second)
	a, err := p.Invoke(context.Background(), imageReq("a red fox"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	b, _ := p.Invoke(context.Background(), imageReq("a red fox"))
	if !a.Fallback || string(a.Output) != string(b.Output) {
		t.Fatal("expected identical placeholder fallbacks")
	}
	var out capability.MediaOutput
	_ = json.Unmarshal(a.Output, &out)
	if !strings.HasPrefix(out.URL, "data:image/svg+xml;base64,") || out.Backend != "placeholder" {
		t.Fatalf("unexpected placeholder %+v", out)
	}

	// closed server: transport error also falls back
	srv.Close()
	v, err := p.Invoke(context.Background(), adapter.CapabilityRequest{
		Capability: model.CapabilityVideo,
		Input:      map[string]any{"prompt": "teaser"},
	})
	if err != nil || !v.Fallback {
		t.Fatalf("expected video fallback, got %+v %v", v, err)
	}
}

func TestLocalMedia_BadRequestIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := capability.NewLocalMediaProvider(srv.URL, time.Second)
	if _, err := p.Invoke(context.Background(), imageReq("x")); err == nil || adapter.IsTransient(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if _, err := p.Invoke(context.Background(), imageReq("  ")); err == nil || adapter.IsTransient(err) {
		t.Fatalf("empty prompt should be permanent, got %v", err)
	}
}

func TestWikipediaSearch_DedupesAndStripsMarkup(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("srsearch") != "go language" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"query":{"search":[
			{"title":"Go (programming language)","snippet":"<span class=\"searchmatch\">Go</span> is a language"},
			{"title":"Go (programming language)","snippet":"duplicate"},
			{"title":"Gopher","snippet":"mascot"}]}}`))
	}))
	defer srv.Close()

	p := capability.NewWikipediaSearchProvider(srv.URL, time.Second)
	res, err := p.Invoke(context.Background(), adapter.CapabilityRequest{
		Capability: model.CapabilitySearch,
		Input:      map[string]any{"query": "go language", "limit": 5},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var out capability.SearchOutput
	_ = json.Unmarshal(res.Output, &out)
	if out.Count != 2 || len(out.Results) != 2 {
		t.Fatalf("expected 2 unique results, got %+v", out)
	}
	if out.Results[0].Snippet != "Go is a language" {
		t.Fatalf("markup not stripped: %q", out.Results[0].Snippet)
	}
	if out.Results[0].URL != "https://en.wikipedia.org/wiki/Go_(programming_language)" {
		t.Fatalf("unexpected url %s", out.Results[0].URL)
	}
}

func TestWikipediaSearch_ServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := capability.NewWikipediaSearchProvider(srv.URL, time.Second)
	_, err := p.Invoke(context.Background(), adapter.CapabilityRequest{
		Capability: model.CapabilitySearch,
		Input:      map[string]any{"query": "x"},
	})
	if !adapter.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestCommandAndLocalPlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	res, err := capability.CommandProvider{}.Invoke(ctx, adapter.CapabilityRequest{
		Capability: model.CapabilityCommand,
		Input:      map[string]any{"command": "deploy", "args": []any{"staging"}},
	})
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	var cmd capability.CommandOutput
	_ = json.Unmarshal(res.Output, &cmd)
	if cmd.Command != "deploy" || cmd.Status != "acknowledged" || len(cmd.Args) != 1 {
		t.Fatalf("unexpected command output %+v", cmd)
	}
	if _, err := (capability.CommandProvider{}).Invoke(ctx, adapter.CapabilityRequest{Capability: model.CapabilityCommand}); adapter.IsTransient(err) || err == nil {
		t.Fatalf("missing command should be permanent, got %v", err)
	}

	res, err = capability.LocalPlanProvider{}.Invoke(ctx, adapter.CapabilityRequest{
		Capability: model.CapabilityPlan,
		Input:      map[string]any{"prompt": "create company plan", "topic": "AI bookkeeping"},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	var plan capability.PlanOutput
	_ = json.Unmarshal(res.Output, &plan)
	if plan.Topic != "AI bookkeeping" || len(plan.Milestones) == 0 || plan.Mission == "" {
		t.Fatalf("unexpected plan %+v", plan)
	}
}
