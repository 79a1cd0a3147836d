package state

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CLIAIMONITOR/internal/errkind"
)

//go:embed schema.sql
var auditSchema string

// AuditLog is a queryable supplement to the JSON snapshot Document,
// per SPEC_FULL.md's domain-stack wiring: every terminal task
// transition is appended here in addition to the history ring, so it
// can be queried ad-hoc by id/type/status/time range after the ring
// has rotated an entry out. Grounded on internal/memory/db.go's
// embed-schema-and-open pattern, simplified to one table and no
// migrations since the schema has not yet needed to evolve.
type AuditLog struct {
	db *sql.DB
}

// OpenAuditLog opens (creating if absent) a modernc.org/sqlite-backed
// database at path and ensures the schema exists.
func OpenAuditLog(path string) (*AuditLog, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errkind.Wrap(errkind.FileIOError, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errkind.Wrap(errkind.FileIOError, err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, errkind.Wrap(errkind.FileIOError, err)
	}
	return &AuditLog{db: db}, nil
}

// Close releases the underlying database handle.
func (a *AuditLog) Close() error {
	return a.db.Close()
}

// Record appends one terminal task transition to the audit log.
func (a *AuditLog) Record(summary TaskSummary) error {
	_, err := a.db.Exec(
		`INSERT INTO task_audit (id, type, status, duration_ms, start_time, name, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		summary.ID, summary.Type, summary.Status, summary.DurationMs,
		summary.StartTime.Format(time.RFC3339), summary.Name, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return errkind.Wrap(errkind.FileIOError, err)
	}
	return nil
}

// AuditRecord is one row returned by Query.
type AuditRecord struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	DurationMs int64     `json:"durationMs"`
	StartTime  time.Time `json:"startTime"`
	Name       string    `json:"name"`
	RecordedAt time.Time `json:"recordedAt"`
}

// AuditFilter narrows Query's result set; zero-valued fields are
// unconstrained.
type AuditFilter struct {
	TaskID string
	Type   string
	Status string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Query returns audit rows matching filter, newest first.
func (a *AuditLog) Query(filter AuditFilter) ([]AuditRecord, error) {
	query := "SELECT id, type, status, duration_ms, start_time, name, recorded_at FROM task_audit WHERE 1=1"
	var args []interface{}

	if filter.TaskID != "" {
		query += " AND id = ?"
		args = append(args, filter.TaskID)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if !filter.Since.IsZero() {
		query += " AND start_time >= ?"
		args = append(args, filter.Since.Format(time.RFC3339))
	}
	if !filter.Until.IsZero() {
		query += " AND start_time <= ?"
		args = append(args, filter.Until.Format(time.RFC3339))
	}
	query += " ORDER BY recorded_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, errkind.Wrap(errkind.FileIOError, err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var startTime, recordedAt string
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Status, &rec.DurationMs, &startTime, &rec.Name, &recordedAt); err != nil {
			return nil, errkind.Wrap(errkind.FileIOError, err)
		}
		rec.StartTime, _ = time.Parse(time.RFC3339, startTime)
		rec.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
