package agentsvc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/CLIAIMONITOR/internal/ai"
	"github.com/CLIAIMONITOR/internal/config"
	"github.com/CLIAIMONITOR/internal/state"
	"github.com/CLIAIMONITOR/internal/tasks"
	"github.com/CLIAIMONITOR/internal/toolsrv"
)

func newTestService(t *testing.T, dir string) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Agent.AllowRoots = []string{dir}
	cfg.Agent.StatePath = filepath.Join(dir, "agent-state.json")
	cfg.AI.DefaultProvider = "stub"
	cfg.AI.Model = "test"

	svc, err := New(cfg, ai.NewStub(ai.Config{Model: "test"}), toolsrv.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestSubmitTaskAndStatus(t *testing.T) {
	dir := t.TempDir()
	svc := newTestService(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	task := tasks.New("echo", "", tasks.TypeShellCommand, tasks.PriorityHigh, map[string]interface{}{
		"command": "echo hello",
	})
	id, err := svc.SubmitTask(task)
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var got *tasks.Task
	for time.Now().Before(deadline) {
		got, _ = svc.GetTask(id)
		if got != nil && got.Status.IsTerminal() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got == nil || !got.Status.IsTerminal() {
		t.Fatalf("task did not reach a terminal status: %+v", got)
	}
	if got.Status != tasks.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}

	status := svc.Status()
	if status.TotalExecuted != 1 {
		t.Fatalf("totalExecuted = %d, want 1", status.TotalExecuted)
	}
	if status.Successful != 1 {
		t.Fatalf("successful = %d, want 1", status.Successful)
	}

	rows, err := svc.AuditQuery(state.AuditFilter{TaskID: id})
	if err != nil {
		t.Fatalf("AuditQuery: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d audit rows, want 1", len(rows))
	}
}

func TestCreatePlanFailsAgainstStubAdapter(t *testing.T) {
	dir := t.TempDir()
	svc := newTestService(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	// The StubAdapter never emits SUBTASK_ blocks, so CreatePlan is
	// expected to fail after retrying the decomposition prompt.
	if _, err := svc.CreatePlan(ctx, "do something", nil); err == nil {
		t.Fatal("expected CreatePlan to fail against the stub adapter's unstructured response")
	}

	if plans := svc.ListPlans(); len(plans) != 0 {
		t.Fatalf("expected no plans to be recorded after a failed CreatePlan, got %d", len(plans))
	}
}
