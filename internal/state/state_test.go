package state

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewCreatesFreshDocumentWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	m, err := New(DefaultConfig(filepath.Join(dir, "agent-state.json")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snap := m.Snapshot()
	if snap.AgentID == "" {
		t.Fatal("expected a generated agentId")
	}
	if snap.TotalTasksExecuted != 0 {
		t.Fatalf("totalTasksExecuted = %d, want 0", snap.TotalTasksExecuted)
	}
}

func TestRecordCompletionUpdatesCountersAndRing(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(filepath.Join(dir, "agent-state.json"))
	cfg.HistorySize = 2
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.RecordCompletion(TaskSummary{ID: "t1", Type: "SHELL_COMMAND", Status: "COMPLETED", StartTime: time.Now()}, true, false)
	m.RecordCompletion(TaskSummary{ID: "t2", Type: "SHELL_COMMAND", Status: "FAILED", StartTime: time.Now()}, false, false)
	m.RecordCompletion(TaskSummary{ID: "t3", Type: "SHELL_COMMAND", Status: "CANCELLED", StartTime: time.Now()}, false, true)

	snap := m.Snapshot()
	if snap.TotalTasksExecuted != 3 {
		t.Fatalf("totalTasksExecuted = %d, want 3", snap.TotalTasksExecuted)
	}
	if snap.SuccessfulTasks != 1 || snap.FailedTasks != 1 || snap.CancelledTasks != 1 {
		t.Fatalf("counters = %+v", snap)
	}
	if snap.SuccessfulTasks+snap.FailedTasks+snap.CancelledTasks > snap.TotalTasksExecuted {
		t.Fatal("counter invariant violated: successful+failed+cancelled > totalTasksExecuted")
	}
	if len(snap.TaskHistory) != 2 {
		t.Fatalf("history ring len = %d, want 2 (capacity overflow should drop oldest)", len(snap.TaskHistory))
	}
	if snap.TaskHistory[0].ID != "t2" || snap.TaskHistory[1].ID != "t3" {
		t.Fatalf("history ring did not drop the oldest entry: %+v", snap.TaskHistory)
	}
}

func TestSaveAndReloadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent-state.json")
	m, err := New(DefaultConfig(path))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.RecordCompletion(TaskSummary{ID: "t1", Type: "FILE_READ", Status: "COMPLETED", StartTime: time.Now()}, true, false)
	if err := m.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := New(DefaultConfig(path))
	if err != nil {
		t.Fatalf("reload New: %v", err)
	}
	snap := reloaded.Snapshot()
	if snap.AgentID != m.Snapshot().AgentID {
		t.Fatal("reloaded document has a different agentId")
	}
	if snap.TotalTasksExecuted != 1 || len(snap.TaskHistory) != 1 {
		t.Fatalf("reloaded snapshot = %+v", snap)
	}
}

func TestSaveRotatesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent-state.json")
	m, err := New(DefaultConfig(path))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Save(); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	m.RecordCompletion(TaskSummary{ID: "t1", Type: "FILE_READ", Status: "COMPLETED", StartTime: time.Now()}, true, false)
	if err := m.Save(); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	matches, err := filepath.Glob(path + ".bak.*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected at least one rotated backup after the second Save")
	}
}

func TestPruneBackupsCapsAtMaxBackupCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent-state.json")
	m, err := New(DefaultConfig(path))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < maxBackupCount+3; i++ {
		stamp := base.Add(time.Duration(i) * time.Minute).Format("20060102150405")
		name := fmt.Sprintf("%s.bak.%s", path, stamp)
		if err := os.WriteFile(name, []byte("{}"), 0o644); err != nil {
			t.Fatalf("seed backup %d: %v", i, err)
		}
	}

	if err := m.pruneBackups(); err != nil {
		t.Fatalf("pruneBackups: %v", err)
	}

	matches, err := filepath.Glob(path + ".bak.*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != maxBackupCount {
		t.Fatalf("expected pruning to cap backups at %d, got %d: %v", maxBackupCount, len(matches), matches)
	}
}
