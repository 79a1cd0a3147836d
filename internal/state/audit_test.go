package state

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAuditLogRecordAndQuery(t *testing.T) {
	dir := t.TempDir()
	log, err := OpenAuditLog(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("OpenAuditLog: %v", err)
	}
	defer log.Close()

	now := time.Now()
	if err := log.Record(TaskSummary{ID: "t1", Type: "SHELL_COMMAND", Status: "COMPLETED", DurationMs: 120, StartTime: now, Name: "list files"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := log.Record(TaskSummary{ID: "t2", Type: "FILE_WRITE", Status: "FAILED", DurationMs: 40, StartTime: now, Name: "write config"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	rows, err := log.Query(AuditFilter{Status: "COMPLETED"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "t1" {
		t.Fatalf("got %+v, want one row for t1", rows)
	}

	all, err := log.Query(AuditFilter{})
	if err != nil {
		t.Fatalf("Query all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d rows, want 2", len(all))
	}
}
