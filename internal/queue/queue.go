// Package queue implements the TaskQueue described in spec.md §4.1: a
// bounded-concurrency priority queue that admits tasks, enforces
// dependency readiness and retry backoff, and dispatches eligible
// tasks to a worker pool for execution. Grounded on the semaphore-gated
// dispatch style of noisefs's workers.Pool (see
// other_examples/...noisefs__pkg-common-workers-pool.go, adapted from
// a homogeneous-task pool to typed, dependent, retriable Task
// scheduling) and on the single-mutex shared-state discipline the
// teacher uses throughout internal/server/hub.go.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/CLIAIMONITOR/internal/corelog"
	"github.com/CLIAIMONITOR/internal/errkind"
	"github.com/CLIAIMONITOR/internal/tasks"
)

// Executor is the narrow interface the queue needs from TaskExecutor:
// run a task to completion or a classified error. The queue does not
// know task semantics beyond this call, per spec.md §2.
type Executor interface {
	Execute(ctx context.Context, t *tasks.Task) (*tasks.Result, error)
}

// EventBus is the narrow interface the queue publishes lifecycle
// events through (spec.md §4.1 "Emit lifecycle events to StateManager").
// A nil EventBus is valid; events are simply dropped.
type EventBus interface {
	Publish(subject string, payload map[string]interface{})
}

// Listener receives task lifecycle notifications, used by the
// StateManager to record history and by the Planner to await a
// submitted task's completion.
type Listener func(t *tasks.Task)

// Stats is the statistics() operation's return shape from spec.md §4.1.
type Stats struct {
	TotalTasks          int     `json:"totalTasks"`
	Pending             int     `json:"pending"`
	Queued              int     `json:"queued"`
	Running             int     `json:"running"`
	Completed           int     `json:"completed"`
	Failed              int     `json:"failed"`
	Cancelled           int     `json:"cancelled"`
	AverageLatencyMs    float64 `json:"averageLatencyMs"`
	ThroughputPerMinute float64 `json:"throughputPerMinute"`
}

// Config tunes the queue's scheduling and retention behavior.
type Config struct {
	// MaxConcurrentTasks is the nominal worker pool size (spec.md §6
	// agent.maxConcurrentTasks, default 3).
	MaxConcurrentTasks int
	// OversubscriptionFactor allows the queue to run up to this many
	// times MaxConcurrentTasks concurrently, per spec.md §4.2 ("the
	// queue may oversubscribe by up to 2x when backing concurrency
	// primitives are cheap" -- true of goroutines).
	OversubscriptionFactor int
	// RetainPerStatus and RetainFor bound in-memory retention of
	// terminal tasks, per spec.md §4.1 Cleanup (default 500 / 24h).
	RetainPerStatus int
	RetainFor       time.Duration
}

// DefaultConfig returns spec.md's defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks:     3,
		OversubscriptionFactor: 2,
		RetainPerStatus:        500,
		RetainFor:              24 * time.Hour,
	}
}

// Queue is the TaskQueue. All mutation of its task map and indices
// happens under mu, matching spec.md §5's "serialized through a single
// mutex" shared-state policy.
type Queue struct {
	cfg      Config
	executor Executor
	bus      EventBus
	log      *corelog.Logger

	mu      sync.Mutex
	tasks   map[string]*tasks.Task
	pq      priorityHeap
	pqIndex map[string]*pqEntry

	listeners []Listener

	sem chan struct{} // capacity gate, sized MaxConcurrentTasks*OversubscriptionFactor

	wake     chan struct{} // wakeup signal for the dispatch loop
	stopCh   chan struct{}
	stopped  chan struct{}
	running  bool
	stopOnce sync.Once

	// runningCancels maps a RUNNING task's id to its cancellation func,
	// populated by dispatchLoop and consumed by Cancel/StopProcessing.
	runningCancels map[string]context.CancelFunc
	// cancelRequested marks ids for which Cancel was called while
	// RUNNING, so runOne can tell a caller-initiated cancellation
	// (ctx.Err() == context.Canceled) apart from an ordinary handler
	// failure and land on CANCELLED instead of retrying, per spec.md
	// §4.1/§5.
	cancelRequested map[string]bool

	// latency/throughput bookkeeping, guarded by mu
	completedCount   int64
	totalLatencyMs   float64
	firstCompletedAt time.Time
	lastCompletedAt  time.Time
}

// New constructs a Queue over executor. Call StartProcessing to begin
// dispatching.
func New(executor Executor, cfg Config, bus EventBus) *Queue {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = DefaultConfig().MaxConcurrentTasks
	}
	if cfg.OversubscriptionFactor <= 0 {
		cfg.OversubscriptionFactor = DefaultConfig().OversubscriptionFactor
	}
	if cfg.RetainPerStatus <= 0 {
		cfg.RetainPerStatus = DefaultConfig().RetainPerStatus
	}
	if cfg.RetainFor <= 0 {
		cfg.RetainFor = DefaultConfig().RetainFor
	}
	capacity := cfg.MaxConcurrentTasks * cfg.OversubscriptionFactor
	q := &Queue{
		cfg:             cfg,
		executor:        executor,
		bus:             bus,
		log:             corelog.New("QUEUE"),
		tasks:           make(map[string]*tasks.Task),
		pqIndex:         make(map[string]*pqEntry),
		cancelRequested: make(map[string]bool),
		sem:             make(chan struct{}, capacity),
		wake:            make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
		stopped:         make(chan struct{}),
	}
	heap.Init(&q.pq)
	return q
}

// AddListener registers a callback invoked on every terminal task
// transition (COMPLETED, FAILED, TIMEOUT, CANCELLED) and on every
// dispatch. Not safe to call after StartProcessing begins dispatching
// concurrently with submissions in a hot loop, but fine at
// construction time, which is the only place the Agent Service uses it.
func (q *Queue) AddListener(l Listener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, l)
}

// Submit validates and admits t, returning its id. Per spec.md §4.1:
// invalid parameters fail with ValidationError before admission;
// admitted tasks enter PENDING, immediately QUEUED, and
// WAITING_FOR_DEPENDENCIES if any dependency is not yet COMPLETED.
func (q *Queue) Submit(t *tasks.Task) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	now := time.Now()
	if t.ID == "" {
		t.ID = tasks.New(t.Name, t.Description, t.Type, t.Priority, t.Parameters).ID
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.Status = tasks.StatusPending
	if err := t.TransitionTo(tasks.StatusQueued); err != nil {
		return "", errkind.Wrap(errkind.Internal, err)
	}
	t.QueuedAt = now

	q.mu.Lock()
	q.tasks[t.ID] = t
	if q.dependenciesPending(t) {
		_ = t.TransitionTo(tasks.StatusWaitingForDependencies)
	} else {
		q.pushEligible(t)
	}
	q.mu.Unlock()

	q.notify(t)
	q.publish("tasks.submitted", t)
	q.signalWake()
	return t.ID, nil
}

// Cancel cancels t if it is neither RUNNING nor terminal. RUNNING
// tasks are signalled by cancelling their context; runOne records the
// resulting CANCELLED transition once the executor unwinds, matching
// spec.md §4.1's "Returns whether a state change occurred."
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return false
	}
	if t.Status.IsTerminal() {
		q.mu.Unlock()
		return false
	}
	if t.Status == tasks.StatusRunning {
		q.cancelRequested[id] = true
		q.mu.Unlock()
		q.requestCancel(id)
		return true
	}
	q.removeFromPQ(id)
	changed := t.TransitionTo(tasks.StatusCancelled) == nil
	q.mu.Unlock()
	if changed {
		q.notify(t)
		q.publish("tasks.cancelled", t)
	}
	return changed
}

// Get returns a copy of the task by id.
func (q *Queue) Get(id string) (*tasks.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// GetAll returns a snapshot of every known task.
func (q *Queue) GetAll() []*tasks.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*tasks.Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// GetByStatus returns a snapshot of every task with the given status.
func (q *Queue) GetByStatus(status tasks.Status) []*tasks.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*tasks.Task
	for _, t := range q.tasks {
		if t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

// Statistics computes the queue's aggregate counters, per spec.md §4.1.
func (q *Queue) Statistics() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s Stats
	for _, t := range q.tasks {
		s.TotalTasks++
		switch t.Status {
		case tasks.StatusPending:
			s.Pending++
		case tasks.StatusQueued, tasks.StatusWaitingForDependencies, tasks.StatusWaitingForApproval:
			s.Queued++
		case tasks.StatusRunning:
			s.Running++
		case tasks.StatusCompleted:
			s.Completed++
		case tasks.StatusFailed, tasks.StatusTimeout:
			s.Failed++
		case tasks.StatusCancelled:
			s.Cancelled++
		}
	}
	if q.completedCount > 0 {
		s.AverageLatencyMs = q.totalLatencyMs / float64(q.completedCount)
	}
	if !q.firstCompletedAt.IsZero() && !q.lastCompletedAt.IsZero() && q.lastCompletedAt.After(q.firstCompletedAt) {
		minutes := q.lastCompletedAt.Sub(q.firstCompletedAt).Minutes()
		if minutes > 0 {
			s.ThroughputPerMinute = float64(q.completedCount) / minutes
		}
	}
	return s
}

// SubmitAndWait submits t and blocks until it reaches a terminal
// status or ctx is cancelled, used by the Planner's Act step (spec.md
// §4.5 step 3: "Build a Task ... and submit to the queue. Await
// completion.").
func (q *Queue) SubmitAndWait(ctx context.Context, t *tasks.Task) (*tasks.Task, error) {
	id, err := q.Submit(t)
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if got, ok := q.Get(id); ok && got.Status.IsTerminal() {
			return got, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Queue) notify(t *tasks.Task) {
	q.mu.Lock()
	ls := append([]Listener(nil), q.listeners...)
	q.mu.Unlock()
	cp := *t
	for _, l := range ls {
		l(&cp)
	}
}

func (q *Queue) publish(subject string, t *tasks.Task) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(subject, map[string]interface{}{
		"id":     t.ID,
		"type":   string(t.Type),
		"status": string(t.Status),
		"name":   t.Name,
	})
}

func (q *Queue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dependenciesPending reports whether any of t's dependencies is not
// yet COMPLETED, under q.mu.
func (q *Queue) dependenciesPending(t *tasks.Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := q.tasks[dep]
		if !ok || d.Status != tasks.StatusCompleted {
			return true
		}
	}
	return false
}

// upstreamFailed reports whether any dependency is terminally
// FAILED/CANCELLED, under q.mu.
func (q *Queue) upstreamFailed(t *tasks.Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := q.tasks[dep]
		if !ok {
			continue
		}
		if d.Status == tasks.StatusFailed || d.Status == tasks.StatusCancelled {
			return true
		}
	}
	return false
}
