package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/CLIAIMONITOR/internal/agentsvc"
	"github.com/CLIAIMONITOR/internal/ai"
	"github.com/CLIAIMONITOR/internal/config"
	"github.com/CLIAIMONITOR/internal/toolsrv"
)

func newTestServer(t *testing.T) (*Server, *agentsvc.Service) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Agent.AllowRoots = []string{dir}
	cfg.Agent.StatePath = filepath.Join(dir, "agent-state.json")
	cfg.AI.DefaultProvider = "stub"
	cfg.AI.Model = "test"

	svc, err := agentsvc.New(cfg, ai.NewStub(ai.Config{Model: "test"}), toolsrv.NewRegistry())
	if err != nil {
		t.Fatalf("agentsvc.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop() })

	return NewServer(svc), svc
}

func TestHandleStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleSubmitAndGetTask(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, _ := json.Marshal(map[string]interface{}{
		"name":       "echo",
		"type":       "SHELL_COMMAND",
		"priority":   "HIGH",
		"parameters": map[string]interface{}{"command": "echo hi"},
	})
	resp, err := http.Post(ts.URL+"/api/tasks", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/tasks: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var submitted map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := submitted["id"]
	if id == "" {
		t.Fatal("expected a task id in the response")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r, err := http.Get(ts.URL + "/api/tasks/" + id)
		if err != nil {
			t.Fatalf("GET /api/tasks/%s: %v", id, err)
		}
		var got map[string]interface{}
		json.NewDecoder(r.Body).Decode(&got)
		r.Body.Close()
		if status, _ := got["status"].(string); status == "COMPLETED" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("task never reached COMPLETED")
}

func TestHandleSubmitTaskRejectsMissingFields(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/tasks", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("POST /api/tasks: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleGetTaskNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/tasks/does-not-exist")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleCreatePlanFailsAgainstStubAdapter(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, _ := json.Marshal(map[string]interface{}{"goal": "do something"})
	resp, err := http.Post(ts.URL+"/api/plans", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/plans: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}
