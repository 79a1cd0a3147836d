package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/CLIAIMONITOR/internal/ai"
	"github.com/CLIAIMONITOR/internal/env"
	"github.com/CLIAIMONITOR/internal/errkind"
	"github.com/CLIAIMONITOR/internal/tasks"
	"github.com/CLIAIMONITOR/internal/toolsrv"
)

func newTestExecutor(t *testing.T, dir string) *Executor {
	t.Helper()
	e := env.New([]string{dir})
	aiAdapter := ai.NewStub(ai.Config{Model: "test"})
	toolAdapter := toolsrv.NewRegistry()
	return New(e, aiAdapter, toolAdapter)
}

func TestShellCommandSafetyDenial(t *testing.T) {
	dir := t.TempDir()
	x := newTestExecutor(t, dir)
	task := tasks.New("dangerous", "", tasks.TypeShellCommand, tasks.PriorityHigh, map[string]interface{}{
		"command": "rm -rf /",
	})
	_, err := x.Execute(context.Background(), task)
	if err == nil {
		t.Fatal("expected safety denial")
	}
	if errkind.Of(err) != errkind.SafetyDenied {
		t.Fatalf("expected SafetyDenied, got %s", errkind.Of(err))
	}
}

func TestShellCommandSuccess(t *testing.T) {
	dir := t.TempDir()
	x := newTestExecutor(t, dir)
	task := tasks.New("echo", "", tasks.TypeShellCommand, tasks.PriorityMedium, map[string]interface{}{
		"command": "echo hello",
	})
	result, err := x.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestFileWriteCreatesNewFile(t *testing.T) {
	dir := t.TempDir()
	x := newTestExecutor(t, dir)
	target := filepath.Join(dir, "new.txt")
	task := tasks.New("write", "", tasks.TypeFileWrite, tasks.PriorityMedium, map[string]interface{}{
		"filePath": target,
		"content":  "hello",
	})
	result, err := x.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.FilesCreated) != 1 {
		t.Fatalf("expected FilesCreated to be set, got %+v", result)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "hello" {
		t.Fatalf("unexpected file content: %q", data)
	}
}

func TestFileWriteEscapingAllowRootIsDenied(t *testing.T) {
	dir := t.TempDir()
	x := newTestExecutor(t, dir)
	task := tasks.New("write", "", tasks.TypeFileWrite, tasks.PriorityMedium, map[string]interface{}{
		"filePath": filepath.Join(dir, "..", "..", "etc", "evil.txt"),
		"content":  "pwned",
	})
	_, err := x.Execute(context.Background(), task)
	if err == nil || errkind.Of(err) != errkind.SafetyDenied {
		t.Fatalf("expected SafetyDenied, got %v", err)
	}
}

func TestFileWriteBacksUpExistingContent(t *testing.T) {
	dir := t.TempDir()
	x := newTestExecutor(t, dir)
	target := filepath.Join(dir, "existing.txt")
	os.WriteFile(target, []byte("original"), 0o644)

	task := tasks.New("overwrite", "please replace the file", tasks.TypeFileWrite, tasks.PriorityMedium, map[string]interface{}{
		"filePath": target,
		"content":  "updated",
	})
	result, err := x.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Metadata["backupPath"] == "" {
		t.Fatal("expected a backup path to be recorded")
	}
	if _, err := os.Stat(result.Metadata["backupPath"]); err != nil {
		t.Fatalf("expected backup file to exist: %v", err)
	}
}

func TestValidationRejectsMissingParameters(t *testing.T) {
	dir := t.TempDir()
	x := newTestExecutor(t, dir)
	task := tasks.New("bad write", "", tasks.TypeFileWrite, tasks.PriorityMedium, map[string]interface{}{
		"filePath": filepath.Join(dir, "x.txt"),
	})
	_, err := x.Execute(context.Background(), task)
	if err == nil || errkind.Of(err) != errkind.Validation {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCompositeShortCircuitsOnFailure(t *testing.T) {
	dir := t.TempDir()
	x := newTestExecutor(t, dir)
	task := tasks.New("composite", "", tasks.TypeComposite, tasks.PriorityMedium, map[string]interface{}{
		"steps": []interface{}{
			map[string]interface{}{
				"name": "bad-shell",
				"type": string(tasks.TypeShellCommand),
				"parameters": map[string]interface{}{
					"command": "sudo rm -rf /important",
				},
			},
			map[string]interface{}{
				"name": "never-runs",
				"type": string(tasks.TypeShellCommand),
				"parameters": map[string]interface{}{
					"command": "echo should not run",
				},
			},
		},
	})
	result, err := x.Execute(context.Background(), task)
	if err == nil {
		t.Fatal("expected composite to propagate the first step's error")
	}
	if result.Success {
		t.Fatal("expected aggregate result to report failure")
	}
}

func TestHealthCheckReportsLiveness(t *testing.T) {
	dir := t.TempDir()
	x := newTestExecutor(t, dir)
	task := tasks.New("health", "", tasks.TypeHealthCheck, tasks.PriorityLow, nil)
	result, err := x.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Output == "" {
		t.Fatalf("expected non-empty healthy output, got %+v", result)
	}
}
