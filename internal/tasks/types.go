// Package tasks defines the unit of work the queue schedules and the
// executor runs: Task, its typed parameters, lifecycle status, and
// TaskResult. It is adapted from the teacher's internal/tasks/types.go
// (status enum, validTransitions DAG, NewTask constructor) generalized
// from a GitHub-style review workflow to the typed action task the
// planner and executor operate on.
package tasks

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the handler that realizes a Task.
type Type string

const (
	TypeShellCommand    Type = "SHELL_COMMAND"
	TypeFileRead        Type = "FILE_READ"
	TypeFileWrite       Type = "FILE_WRITE"
	TypeFileCopy        Type = "FILE_COPY"
	TypeFileDelete      Type = "FILE_DELETE"
	TypeDirectoryScan   Type = "DIRECTORY_SCAN"
	TypeAIAnalysis      Type = "AI_ANALYSIS"
	TypeCodeGeneration  Type = "CODE_GENERATION"
	TypeDecisionMaking  Type = "DECISION_MAKING"
	TypeTextProcessing  Type = "TEXT_PROCESSING"
	TypeToolCall        Type = "TOOL_CALL"
	TypeScriptExecution Type = "SCRIPT_EXECUTION"
	TypeComposite       Type = "COMPOSITE"
	TypeHealthCheck     Type = "HEALTH_CHECK"
	TypeLogAnalysis     Type = "LOG_ANALYSIS"
)

// Priority is the scheduling urgency; lower ordinal runs first.
type Priority string

const (
	PriorityCritical   Priority = "CRITICAL"
	PriorityHigh       Priority = "HIGH"
	PriorityMedium     Priority = "MEDIUM"
	PriorityLow        Priority = "LOW"
	PriorityBackground Priority = "BACKGROUND"
)

// Ordinal returns the priority's numeric rank, 1 (most urgent) to 5.
func (p Priority) Ordinal() int {
	switch p {
	case PriorityCritical:
		return 1
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 3
	case PriorityLow:
		return 4
	case PriorityBackground:
		return 5
	default:
		return 3 // unknown priorities fall back to MEDIUM, per spec open question
	}
}

// Status is a Task's lifecycle state.
type Status string

const (
	StatusPending               Status = "PENDING"
	StatusQueued                Status = "QUEUED"
	StatusWaitingForDependencies Status = "WAITING_FOR_DEPENDENCIES"
	StatusWaitingForApproval    Status = "WAITING_FOR_APPROVAL"
	StatusRunning               Status = "RUNNING"
	StatusCompleted             Status = "COMPLETED"
	StatusFailed                Status = "FAILED"
	StatusTimeout               Status = "TIMEOUT"
	StatusCancelled             Status = "CANCELLED"
	StatusPaused                Status = "PAUSED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusFailed:
		return true
	default:
		return false
	}
}

// validTransitions defines the allowed status DAG from spec.md §3.
var validTransitions = map[Status][]Status{
	StatusPending:                {StatusQueued, StatusCancelled},
	StatusQueued:                 {StatusWaitingForDependencies, StatusRunning, StatusWaitingForApproval, StatusCancelled},
	StatusWaitingForDependencies: {StatusQueued, StatusFailed, StatusCancelled},
	StatusWaitingForApproval:     {StatusQueued, StatusCancelled},
	StatusRunning:                {StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled, StatusPaused},
	StatusPaused:                 {StatusQueued, StatusCancelled},
	StatusFailed:                 {StatusQueued}, // retry re-enters QUEUED
	StatusTimeout:                {StatusQueued},
}

// RetryPolicy governs re-scheduling of a failed or timed-out task.
type RetryPolicy struct {
	MaxAttempts    int `json:"maxAttempts"`
	BackoffBaseMs  int `json:"backoffBaseMs"`
	CurrentAttempt int `json:"currentAttempt"`
}

// DefaultRetryPolicy returns the spec.md §3 default (3 attempts, 1s base).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BackoffBaseMs: 1000, CurrentAttempt: 0}
}

// MaxBackoff caps exponential retry backoff at 5 minutes (spec.md §9
// Open Questions fixes the previously inconsistent cap).
const MaxBackoff = 5 * time.Minute

// Backoff returns the delay before the next retry, per spec.md §4.1:
// base * 2^(attempt-1), capped at MaxBackoff.
func (r RetryPolicy) Backoff() time.Duration {
	if r.CurrentAttempt < 1 {
		return 0
	}
	shift := r.CurrentAttempt - 1
	if shift > 20 {
		shift = 20 // guard against overflow; cap below dominates anyway
	}
	d := time.Duration(r.BackoffBaseMs) * time.Millisecond * time.Duration(1<<uint(shift))
	if d > MaxBackoff || d < 0 {
		return MaxBackoff
	}
	return d
}

// defaultTimeoutMs returns the spec.md §3 per-type default timeout.
func defaultTimeoutMs(t Type) int {
	switch t {
	case TypeShellCommand, TypeScriptExecution, TypeComposite:
		return 30000
	case TypeFileRead, TypeFileWrite, TypeFileCopy, TypeFileDelete, TypeDirectoryScan, TypeLogAnalysis, TypeHealthCheck:
		return 5000
	case TypeAIAnalysis, TypeCodeGeneration, TypeDecisionMaking, TypeTextProcessing:
		return 60000
	case TypeToolCall:
		return 30000
	default:
		return 30000
	}
}

// Result is the structured outcome of a handler invocation.
type Result struct {
	Success          bool              `json:"success"`
	Output           string            `json:"output"`
	ExitCode         *int              `json:"exitCode,omitempty"`
	FilesCreated     []string          `json:"filesCreated,omitempty"`
	FilesModified    []string          `json:"filesModified,omitempty"`
	CommandsExecuted []string          `json:"commandsExecuted,omitempty"`
	ExecutionTimeMs  int64             `json:"executionTimeMs"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// MaxOutputBytes is the truncation limit for captured output (64 KiB).
const MaxOutputBytes = 64 * 1024

// TruncateOutput caps s at MaxOutputBytes and reports whether it cut.
func TruncateOutput(s string) (string, bool) {
	if len(s) <= MaxOutputBytes {
		return s, false
	}
	return s[:MaxOutputBytes], true
}

// Task is the unit of work admitted to the queue.
type Task struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Type        Type                   `json:"type"`
	Priority    Priority               `json:"priority"`
	Status      Status                 `json:"status"`
	Parameters  map[string]interface{} `json:"parameters"`
	Dependencies []string              `json:"dependencies,omitempty"`
	Retry       RetryPolicy            `json:"retry"`
	TimeoutMs   int                    `json:"timeoutMs"`

	CreatedAt          time.Time  `json:"createdAt"`
	QueuedAt           time.Time  `json:"queuedAt"`
	StartedAt          time.Time  `json:"startedAt,omitempty"`
	CompletedAt        time.Time  `json:"completedAt,omitempty"`
	ScheduledNotBefore time.Time  `json:"scheduledNotBefore,omitempty"`

	Result       *Result `json:"result,omitempty"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
}

// New creates a Task with an auto-generated id, MEDIUM default priority
// (spec.md §9 fixes the previously inconsistent MEDIUM/NORMAL default),
// and the type's default timeout.
func New(name, description string, typ Type, priority Priority, params map[string]interface{}) *Task {
	now := time.Now()
	if priority == "" {
		priority = PriorityMedium
	}
	if params == nil {
		params = make(map[string]interface{})
	}
	return &Task{
		ID:          "task-" + uuid.NewString(),
		Name:        name,
		Description: description,
		Type:        typ,
		Priority:    priority,
		Status:      StatusPending,
		Parameters:  params,
		Retry:       DefaultRetryPolicy(),
		TimeoutMs:   defaultTimeoutMs(typ),
		CreatedAt:   now,
	}
}

// TransitionTo attempts to move the task to newStatus, enforcing the
// status DAG. Terminal statuses (COMPLETED, CANCELLED, and FAILED once
// attempts are exhausted) reject every further transition.
func (t *Task) TransitionTo(newStatus Status) error {
	if t.Status.IsTerminal() {
		if t.Status == StatusFailed && newStatus == StatusQueued && t.Retry.CurrentAttempt < t.Retry.MaxAttempts {
			// A FAILED task with attempts remaining may still retry;
			// IsTerminal() is a coarse check overridden here.
		} else {
			return fmt.Errorf("task %s: status %s is terminal", t.ID, t.Status)
		}
	}

	allowed, ok := validTransitions[t.Status]
	if !ok {
		return fmt.Errorf("task %s: unknown current status %s", t.ID, t.Status)
	}

	for _, s := range allowed {
		if s == newStatus {
			t.Status = newStatus
			return nil
		}
	}

	return fmt.Errorf("task %s: invalid transition from %s to %s", t.ID, t.Status, newStatus)
}

// IsEligible reports whether t may be dispatched right now: it is
// QUEUED and its scheduledNotBefore (if any) has elapsed.
func (t *Task) IsEligible(now time.Time) bool {
	if t.Status != StatusQueued {
		return false
	}
	if !t.ScheduledNotBefore.IsZero() && t.ScheduledNotBefore.After(now) {
		return false
	}
	return true
}
