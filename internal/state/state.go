// Package state implements the StateManager from spec.md §4.6: a
// durably persisted JSON document holding the agent's identity,
// counters, and a bounded task history ring, snapshotted on a timer,
// on every task completion, and on graceful shutdown. Grounded on the
// teacher's internal/persistence/store.go (atomic JSON snapshot to a
// configured path, load-or-create on start) generalized from a
// dashboard's AgentState/Alert/CaptainMessage document to the single
// agent-session document spec.md §6 describes.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CLIAIMONITOR/internal/corelog"
	"github.com/CLIAIMONITOR/internal/errkind"
)

// TaskSummary is one history ring entry, per spec.md §6's taskHistory
// array shape.
type TaskSummary struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	DurationMs int64     `json:"durationMs"`
	StartTime  time.Time `json:"startTime"`
	Name       string    `json:"name"`
}

// Document is the on-disk JSON layout, per spec.md §6.
type Document struct {
	AgentID            string                 `json:"agentId"`
	StartTime          time.Time              `json:"startTime"`
	LastActivity       time.Time              `json:"lastActivity"`
	TotalTasksExecuted int                    `json:"totalTasksExecuted"`
	SuccessfulTasks    int                    `json:"successfulTasks"`
	FailedTasks        int                    `json:"failedTasks"`
	CancelledTasks     int                    `json:"cancelledTasks"`
	UptimeMs           int64                  `json:"uptime"`
	TaskHistory        []TaskSummary          `json:"taskHistory"`
	Statistics         map[string]interface{} `json:"statistics"`
	Configuration      map[string]interface{} `json:"configuration"`
}

// Config tunes retention and snapshot cadence.
type Config struct {
	StatePath           string
	HistorySize         int           // spec.md §6 agent.historySize, default 500
	BackupRetentionDays int           // spec.md §6 agent.backupRetentionDays, default 7
	AutoSaveInterval     time.Duration // spec.md §4.6 "every 30s when dirty"
}

// DefaultConfig returns spec.md's defaults.
func DefaultConfig(statePath string) Config {
	return Config{
		StatePath:           statePath,
		HistorySize:         500,
		BackupRetentionDays: 7,
		AutoSaveInterval:    30 * time.Second,
	}
}

// Manager is the StateManager. All mutation is serialized through mu;
// snapshot-to-disk happens outside the lock on a copy, per spec.md §5.
type Manager struct {
	cfg Config
	log *corelog.Logger

	mu       sync.Mutex
	doc      Document
	dirty    bool
	configSnap map[string]interface{}

	stopCh     chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once
	autoSaving bool
}

// New loads statePath if it exists and parses, or creates a fresh
// Document, per spec.md §4.6.
func New(cfg Config) (*Manager, error) {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig("").HistorySize
	}
	if cfg.BackupRetentionDays <= 0 {
		cfg.BackupRetentionDays = DefaultConfig("").BackupRetentionDays
	}
	if cfg.AutoSaveInterval <= 0 {
		cfg.AutoSaveInterval = DefaultConfig("").AutoSaveInterval
	}

	m := &Manager{
		cfg:     cfg,
		log:     corelog.New("STATE"),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}

	if doc, err := loadDocument(cfg.StatePath); err == nil {
		m.doc = *doc
	} else {
		now := time.Now()
		m.doc = Document{
			AgentID:     "agent-" + uuid.NewString(),
			StartTime:   now,
			LastActivity: now,
			TaskHistory: nil,
			Statistics:  make(map[string]interface{}),
			Configuration: make(map[string]interface{}),
		}
	}
	return m, nil
}

func loadDocument(path string) (*Document, error) {
	if path == "" {
		return nil, errkind.New(errkind.FileIOError, "no state path configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.FileIOError, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errkind.Wrap(errkind.ParseError, err)
	}
	return &doc, nil
}

// SetConfiguration stores a snapshot of recognized configuration
// options, persisted verbatim in the document's configuration field.
func (m *Manager) SetConfiguration(snapshot map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.Configuration = snapshot
	m.dirty = true
}

// RecordCompletion appends a TaskSummary to the history ring (dropping
// the oldest on overflow), updates counters under one lock (preserving
// `successful + failed + cancelled <= totalTasksExecuted`), and marks
// the document dirty for the next auto-save tick, per spec.md §4.6.
func (m *Manager) RecordCompletion(summary TaskSummary, success, cancelled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.doc.TaskHistory = append(m.doc.TaskHistory, summary)
	if overflow := len(m.doc.TaskHistory) - m.cfg.HistorySize; overflow > 0 {
		m.doc.TaskHistory = m.doc.TaskHistory[overflow:]
	}

	m.doc.TotalTasksExecuted++
	switch {
	case cancelled:
		m.doc.CancelledTasks++
	case success:
		m.doc.SuccessfulTasks++
	default:
		m.doc.FailedTasks++
	}
	m.doc.LastActivity = time.Now()
	m.dirty = true
}

// Snapshot returns a deep-enough copy of the current document for
// inspection (status reporting, tests) without holding the lock.
func (m *Manager) Snapshot() Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := m.doc
	cp.TaskHistory = append([]TaskSummary(nil), m.doc.TaskHistory...)
	cp.UptimeMs = time.Since(m.doc.StartTime).Milliseconds()
	return cp
}

// Save flushes the current document to disk via the same atomic
// temp-file-then-rename discipline as FILE_WRITE (env.WriteFileAtomic),
// reimplemented here rather than routed through Environment because
// the state path is a trusted configuration value, not user-supplied
// input subject to the allow-root sandbox. A rotating backup is
// written first when the target file already exists.
func (m *Manager) Save() error {
	m.mu.Lock()
	m.doc.UptimeMs = time.Since(m.doc.StartTime).Milliseconds()
	doc := m.doc
	m.dirty = false
	m.mu.Unlock()

	if m.cfg.StatePath == "" {
		return errkind.New(errkind.FileIOError, "no state path configured")
	}

	if _, err := os.Stat(m.cfg.StatePath); err == nil {
		if err := m.rotateBackup(); err != nil {
			m.log.Warnf("backup rotation failed: %v", err)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errkind.Wrap(errkind.Internal, err)
	}
	return writeAtomic(m.cfg.StatePath, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.Wrap(errkind.FileIOError, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return errkind.Wrap(errkind.FileIOError, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errkind.Wrap(errkind.FileIOError, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errkind.Wrap(errkind.FileIOError, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errkind.Wrap(errkind.FileIOError, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errkind.Wrap(errkind.FileIOError, err)
	}
	return nil
}

// rotateBackup copies the current state file to
// <statePath>.bak.<yyyyMMddHHmmss> and prunes backups older than
// BackupRetentionDays, per spec.md §6.
func (m *Manager) rotateBackup() error {
	data, err := os.ReadFile(m.cfg.StatePath)
	if err != nil {
		return errkind.Wrap(errkind.FileIOError, err)
	}
	stamp := time.Now().Format("20060102150405")
	backupPath := m.cfg.StatePath + ".bak." + stamp
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return errkind.Wrap(errkind.FileIOError, err)
	}
	return m.pruneBackups()
}

// maxBackupCount is spec.md §4.6's "at most N=7 rotating backups" cap,
// enforced in addition to the BackupRetentionDays time window.
const maxBackupCount = 7

func (m *Manager) pruneBackups() error {
	dir := filepath.Dir(m.cfg.StatePath)
	base := filepath.Base(m.cfg.StatePath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errkind.Wrap(errkind.FileIOError, err)
	}
	cutoff := time.Now().AddDate(0, 0, -m.cfg.BackupRetentionDays)

	var backups []string
	prefix := base + ".bak."
	for _, e := range entries {
		if e.IsDir() || len(e.Name()) <= len(prefix) || e.Name()[:len(prefix)] != prefix {
			continue
		}
		backups = append(backups, e.Name())
	}
	sort.Strings(backups) // stamp format sorts lexically in chronological order

	var remaining []string
	for _, name := range backups {
		stamp := name[len(prefix):]
		t, err := time.Parse("20060102150405", stamp)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			os.Remove(filepath.Join(dir, name))
			continue
		}
		remaining = append(remaining, name)
	}

	if over := len(remaining) - maxBackupCount; over > 0 {
		for _, name := range remaining[:over] {
			os.Remove(filepath.Join(dir, name))
		}
	}
	return nil
}

// StartAutoSave launches the background dirty-timer goroutine from
// spec.md §4.6 ("Auto-save is triggered ... every 30s when dirty").
func (m *Manager) StartAutoSave() {
	m.mu.Lock()
	m.autoSaving = true
	m.mu.Unlock()
	go m.autoSaveLoop()
}

func (m *Manager) autoSaveLoop() {
	defer close(m.stopped)
	ticker := time.NewTicker(m.cfg.AutoSaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			dirty := m.dirty
			m.mu.Unlock()
			if dirty {
				if err := m.Save(); err != nil {
					m.log.Errorf("auto-save failed: %v", err)
				}
			}
		case <-m.stopCh:
			return
		}
	}
}

// Stop halts the auto-save timer and performs a final graceful-
// shutdown save, per spec.md §4.6 ("on graceful shutdown").
func (m *Manager) Stop() error {
	m.mu.Lock()
	started := m.autoSaving
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stopCh) })
	if started {
		<-m.stopped
	}
	return m.Save()
}
