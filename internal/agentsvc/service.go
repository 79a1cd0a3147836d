// Package agentsvc composes Environment, AI Adapter, Tool Adapter,
// StateManager, and Configuration into the outer Agent Service from
// spec.md §9's "From framework dependency injection to explicit
// construction": a single constructor, no global registry. It owns the
// TaskQueue and Planner and exposes exactly the operations spec.md §6
// names as the CLI boundary: start, stop, submitTask, status,
// createPlan, executePlan, listPlans. Grounded on the teacher's
// server.Server (an explicit struct wiring every subsystem together in
// one constructor, generalized here from a dashboard's many handler
// dependencies to the ReAct core's six).
package agentsvc

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/CLIAIMONITOR/internal/ai"
	"github.com/CLIAIMONITOR/internal/bus"
	"github.com/CLIAIMONITOR/internal/config"
	"github.com/CLIAIMONITOR/internal/corelog"
	"github.com/CLIAIMONITOR/internal/env"
	"github.com/CLIAIMONITOR/internal/executor"
	"github.com/CLIAIMONITOR/internal/notify"
	"github.com/CLIAIMONITOR/internal/planner"
	"github.com/CLIAIMONITOR/internal/queue"
	"github.com/CLIAIMONITOR/internal/state"
	"github.com/CLIAIMONITOR/internal/tasks"
	"github.com/CLIAIMONITOR/internal/toolsrv"
)

// StatusReport is the status() operation's return shape: queue
// statistics plus the durable state document's counters and identity.
type StatusReport struct {
	AgentID       string       `json:"agentId"`
	Mode          config.Mode  `json:"mode"`
	Running       bool         `json:"running"`
	UptimeMs      int64        `json:"uptimeMs"`
	QueueStats    queue.Stats  `json:"queueStats"`
	TotalExecuted int          `json:"totalTasksExecuted"`
	Successful    int          `json:"successfulTasks"`
	Failed        int          `json:"failedTasks"`
	Cancelled     int          `json:"cancelledTasks"`
}

// Service is the Agent Service.
type Service struct {
	cfg *config.Config
	log *corelog.Logger

	env       *env.Environment
	ai        ai.Adapter
	tools     toolsrv.Adapter
	executor  *executor.Executor
	stateMgr  *state.Manager
	audit     *state.AuditLog
	eventBus  *bus.Bus
	taskQueue *queue.Queue
	plnr      *planner.Planner
	notifier  *notify.Notifier

	mu      sync.Mutex
	running bool
}

// New wires every component from cfg. aiAdapter and toolAdapter are
// supplied by the caller (the CLI boundary decides which concrete
// provider/registry to construct), matching spec.md §9's explicit
// dependency injection.
func New(cfg *config.Config, aiAdapter ai.Adapter, toolAdapter toolsrv.Adapter) (*Service, error) {
	environment := env.New(cfg.Agent.AllowRoots)
	exec := executor.New(environment, aiAdapter, toolAdapter)

	stateMgr, err := state.New(state.Config{
		StatePath:           cfg.Agent.StatePath,
		HistorySize:         cfg.Agent.HistorySize,
		BackupRetentionDays: cfg.Agent.BackupRetentionDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state manager: %w", err)
	}
	stateMgr.SetConfiguration(configSnapshot(cfg))

	auditPath := strings.TrimSuffix(cfg.Agent.StatePath, filepath.Ext(cfg.Agent.StatePath)) + "-audit.db"
	audit, err := state.OpenAuditLog(auditPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	eventBus := bus.New()

	q := queue.New(exec, queue.Config{
		MaxConcurrentTasks: cfg.Agent.MaxConcurrentTasks,
	}, eventBus)

	plnr := planner.New(aiAdapter, q, environment, cfg, nil)
	notifier := notify.New("", cfg.Agent.Mode)

	svc := &Service{
		cfg:       cfg,
		log:       corelog.New("AGENT"),
		env:       environment,
		ai:        aiAdapter,
		tools:     toolAdapter,
		executor:  exec,
		stateMgr:  stateMgr,
		audit:     audit,
		eventBus:  eventBus,
		taskQueue: q,
		plnr:      plnr,
		notifier:  notifier,
	}

	q.AddListener(svc.onTaskTerminal)
	return svc, nil
}

func configSnapshot(cfg *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"agent.enabled":             cfg.Agent.Enabled,
		"agent.mode":                string(cfg.Agent.Mode),
		"agent.maxConcurrentTasks":  cfg.Agent.MaxConcurrentTasks,
		"agent.executionIntervalMs": cfg.Agent.ExecutionIntervalMs,
		"agent.statePath":           cfg.Agent.StatePath,
		"agent.allowRoots":          cfg.Agent.AllowRoots,
		"ai.defaultProvider":        cfg.AI.DefaultProvider,
		"ai.model":                  cfg.AI.Model,
	}
}

// onTaskTerminal is the queue.Listener recording every terminal task
// transition into the durable history ring and the supplementary audit
// log, and raising a desktop notification for a CRITICAL-priority
// failure, per spec.md §4.6 ("on every task completion").
func (s *Service) onTaskTerminal(t *tasks.Task) {
	if !t.Status.IsTerminal() {
		return
	}
	summary := state.TaskSummary{
		ID:         t.ID,
		Type:       string(t.Type),
		Status:     string(t.Status),
		StartTime:  t.StartedAt,
		Name:       t.Name,
	}
	if !t.StartedAt.IsZero() && !t.CompletedAt.IsZero() {
		summary.DurationMs = t.CompletedAt.Sub(t.StartedAt).Milliseconds()
	}

	success := t.Status == tasks.StatusCompleted
	cancelled := t.Status == tasks.StatusCancelled
	s.stateMgr.RecordCompletion(summary, success, cancelled)

	if err := s.audit.Record(summary); err != nil {
		s.log.Warnf("audit record failed for task %s: %v", t.ID, err)
	}

	if !success && !cancelled && t.Priority == tasks.PriorityCritical {
		if err := s.notifier.NotifyTaskFailure(t.Name, t.ErrorMessage); err != nil {
			s.log.Warnf("notification failed for task %s: %v", t.ID, err)
		}
	}
}

// Start launches the task queue's dispatch loop, the event bus, and
// the state manager's auto-save timer, per spec.md §9's start/stop
// lifecycle operations.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("agent service already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.eventBus.Start(); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	s.taskQueue.StartProcessing(ctx)
	s.stateMgr.StartAutoSave()
	s.log.Infof("agent service started (mode=%s, maxConcurrentTasks=%d)", s.cfg.Agent.Mode, s.cfg.Agent.MaxConcurrentTasks)
	return nil
}

// Stop gracefully halts task dispatch (honoring the configured grace
// period), flushes final state, and shuts down the event bus.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.taskQueue.StopProcessing(s.cfg.ShutdownGrace())
	if err := s.stateMgr.Stop(); err != nil {
		s.log.Warnf("final state save failed: %v", err)
	}
	s.eventBus.Shutdown()
	if err := s.audit.Close(); err != nil {
		s.log.Warnf("audit log close failed: %v", err)
	}
	s.log.Infof("agent service stopped")
	return nil
}

// SubmitTask admits t to the queue and returns its id.
func (s *Service) SubmitTask(t *tasks.Task) (string, error) {
	return s.taskQueue.Submit(t)
}

// GetTask returns a task by id.
func (s *Service) GetTask(id string) (*tasks.Task, bool) {
	return s.taskQueue.Get(id)
}

// ListTasks returns every known task.
func (s *Service) ListTasks() []*tasks.Task {
	return s.taskQueue.GetAll()
}

// CancelTask cancels a pending or running task.
func (s *Service) CancelTask(id string) bool {
	return s.taskQueue.Cancel(id)
}

// Status reports the agent's current health and counters.
func (s *Service) Status() StatusReport {
	doc := s.stateMgr.Snapshot()
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return StatusReport{
		AgentID:       doc.AgentID,
		Mode:          s.cfg.Agent.Mode,
		Running:       running,
		UptimeMs:      doc.UptimeMs,
		QueueStats:    s.taskQueue.Statistics(),
		TotalExecuted: doc.TotalTasksExecuted,
		Successful:    doc.SuccessfulTasks,
		Failed:        doc.FailedTasks,
		Cancelled:     doc.CancelledTasks,
	}
}

// CreatePlan decomposes goal into an ExecutionPlan.
func (s *Service) CreatePlan(ctx context.Context, goal string, planCtx map[string]interface{}) (*planner.ExecutionPlan, error) {
	return s.plnr.CreatePlan(ctx, goal, planCtx)
}

// ExecutePlan drives a previously created plan to completion.
func (s *Service) ExecutePlan(ctx context.Context, planID string) (*planner.PlanExecution, error) {
	exec, err := s.plnr.ExecutePlan(ctx, planID)
	if err == nil && exec.Status == planner.PlanFailed {
		if pl, ok := s.plnr.GetPlan(planID); ok {
			if nerr := s.notifier.NotifyPlanFailure(pl.Goal, "plan execution failed"); nerr != nil {
				s.log.Warnf("notification failed for plan %s: %v", planID, nerr)
			}
		}
	}
	return exec, err
}

// ListPlans returns every plan the Planner has created.
func (s *Service) ListPlans() []*planner.ExecutionPlan {
	return s.plnr.ListPlans()
}

// GetPlan returns a single plan by id.
func (s *Service) GetPlan(id string) (*planner.ExecutionPlan, bool) {
	return s.plnr.GetPlan(id)
}

// AuditQuery exposes the supplementary SQLite audit log for ad-hoc
// querying, per SPEC_FULL.md's domain-stack wiring.
func (s *Service) AuditQuery(filter state.AuditFilter) ([]state.AuditRecord, error) {
	return s.audit.Query(filter)
}

// EventBus exposes the lifecycle event bus for subscribers such as
// internal/httpapi's websocket hub.
func (s *Service) EventBus() *bus.Bus {
	return s.eventBus
}
