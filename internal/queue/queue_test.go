package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/CLIAIMONITOR/internal/errkind"
	"github.com/CLIAIMONITOR/internal/tasks"
)

// fakeExecutor lets tests script per-task behavior by name.
type fakeExecutor struct {
	mu       sync.Mutex
	attempts map[string]int
	run      func(attempt int, t *tasks.Task) (*tasks.Result, error)
	order    []string
}

func (f *fakeExecutor) Execute(ctx context.Context, t *tasks.Task) (*tasks.Result, error) {
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	f.attempts[t.ID]++
	attempt := f.attempts[t.ID]
	f.order = append(f.order, t.ID)
	f.mu.Unlock()
	if f.run != nil {
		return f.run(attempt, t)
	}
	return &tasks.Result{Success: true}, nil
}

func waitForStatus(t *testing.T, q *Queue, id string, status tasks.Status, timeout time.Duration) *tasks.Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got, ok := q.Get(id); ok && got.Status == status {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %s in time", id, status)
	return nil
}

func TestSubmitAndComplete(t *testing.T) {
	exec := &fakeExecutor{}
	q := New(exec, DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartProcessing(ctx)
	defer q.StopProcessing(time.Second)

	task := tasks.New("echo", "", tasks.TypeHealthCheck, tasks.PriorityMedium, nil)
	id, err := q.Submit(task)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := waitForStatus(t, q, id, tasks.StatusCompleted, 2*time.Second)
	if !got.Result.Success {
		t.Fatalf("expected success result")
	}
}

func TestDependencyOrdering(t *testing.T) {
	exec := &fakeExecutor{}
	q := New(exec, DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartProcessing(ctx)
	defer q.StopProcessing(time.Second)

	first := tasks.New("first", "", tasks.TypeHealthCheck, tasks.PriorityMedium, nil)
	firstID, _ := q.Submit(first)

	second := tasks.New("second", "", tasks.TypeHealthCheck, tasks.PriorityMedium, nil)
	second.Dependencies = []string{firstID}
	secondID, err := q.Submit(second)
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}

	waitForStatus(t, q, firstID, tasks.StatusCompleted, 2*time.Second)
	completed := waitForStatus(t, q, secondID, tasks.StatusCompleted, 2*time.Second)
	if completed.StartedAt.Before(first.CompletedAt) {
		t.Fatalf("second task started before first completed")
	}
}

func TestUpstreamFailurePropagates(t *testing.T) {
	exec := &fakeExecutor{
		run: func(attempt int, t *tasks.Task) (*tasks.Result, error) {
			if t.Name == "boom" {
				return nil, errkind.New(errkind.Validation, "deliberate failure")
			}
			return &tasks.Result{Success: true}, nil
		},
	}
	q := New(exec, DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartProcessing(ctx)
	defer q.StopProcessing(time.Second)

	upstream := tasks.New("boom", "", tasks.TypeHealthCheck, tasks.PriorityMedium, nil)
	upstreamID, _ := q.Submit(upstream)

	dependent := tasks.New("dependent", "", tasks.TypeHealthCheck, tasks.PriorityMedium, nil)
	dependent.Dependencies = []string{upstreamID}
	dependentID, _ := q.Submit(dependent)

	waitForStatus(t, q, upstreamID, tasks.StatusFailed, 2*time.Second)
	waitForStatus(t, q, dependentID, tasks.StatusFailed, 2*time.Second)
}

func TestPriorityOrdering(t *testing.T) {
	var mu sync.Mutex
	var startOrder []string
	exec := &fakeExecutor{
		run: func(attempt int, t *tasks.Task) (*tasks.Result, error) {
			mu.Lock()
			startOrder = append(startOrder, t.Name)
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			return &tasks.Result{Success: true}, nil
		},
	}
	cfg := DefaultConfig()
	cfg.MaxConcurrentTasks = 1
	cfg.OversubscriptionFactor = 1
	q := New(exec, cfg, nil)

	low := tasks.New("low", "", tasks.TypeHealthCheck, tasks.PriorityLow, nil)
	lowID, _ := q.Submit(low)
	high := tasks.New("high", "", tasks.TypeHealthCheck, tasks.PriorityHigh, nil)
	highID, _ := q.Submit(high)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartProcessing(ctx)
	defer q.StopProcessing(time.Second)

	waitForStatus(t, q, lowID, tasks.StatusCompleted, 3*time.Second)
	waitForStatus(t, q, highID, tasks.StatusCompleted, 3*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(startOrder) < 2 || startOrder[0] != "high" {
		t.Fatalf("expected high priority to dispatch first, got %v", startOrder)
	}
}

func TestRetryBackoff(t *testing.T) {
	exec := &fakeExecutor{
		run: func(attempt int, t *tasks.Task) (*tasks.Result, error) {
			if attempt < 3 {
				return nil, errkind.New(errkind.ProcessError, "transient").WithRetriable(true)
			}
			return &tasks.Result{Success: true}, nil
		},
	}
	q := New(exec, DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartProcessing(ctx)
	defer q.StopProcessing(time.Second)

	task := tasks.New("flaky", "", tasks.TypeHealthCheck, tasks.PriorityMedium, nil)
	task.Retry.BackoffBaseMs = 50
	task.Retry.MaxAttempts = 4
	id, _ := q.Submit(task)

	got := waitForStatus(t, q, id, tasks.StatusCompleted, 3*time.Second)
	if got.Retry.CurrentAttempt != 2 {
		t.Fatalf("expected 2 recorded retries, got %d", got.Retry.CurrentAttempt)
	}
}

func TestCancelPendingTask(t *testing.T) {
	exec := &fakeExecutor{}
	q := New(exec, DefaultConfig(), nil)

	task := tasks.New("never runs", "", tasks.TypeHealthCheck, tasks.PriorityLow, nil)
	id, _ := q.Submit(task)

	if !q.Cancel(id) {
		t.Fatalf("expected cancel to report a state change")
	}
	got, _ := q.Get(id)
	if got.Status != tasks.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
}

// blockingExecutor blocks until its context is done, so tests can
// cancel a task while it is RUNNING.
type blockingExecutor struct{ started chan struct{} }

func (b *blockingExecutor) Execute(ctx context.Context, t *tasks.Task) (*tasks.Result, error) {
	close(b.started)
	<-ctx.Done()
	return &tasks.Result{Success: false, Output: "interrupted"}, nil
}

func TestCancelRunningTaskBecomesCancelled(t *testing.T) {
	exec := &blockingExecutor{started: make(chan struct{})}
	q := New(exec, DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartProcessing(ctx)
	defer q.StopProcessing(time.Second)

	task := tasks.New("blocked", "", tasks.TypeHealthCheck, tasks.PriorityMedium, nil)
	task.TimeoutMs = 60_000
	id, _ := q.Submit(task)

	waitForStatus(t, q, id, tasks.StatusRunning, 2*time.Second)
	<-exec.started

	if !q.Cancel(id) {
		t.Fatalf("expected cancel to report a state change for a RUNNING task")
	}

	got := waitForStatus(t, q, id, tasks.StatusCancelled, 2*time.Second)
	if got.Status != tasks.StatusCancelled {
		t.Fatalf("expected a cancelled RUNNING task to land on CANCELLED, got %s", got.Status)
	}
}

func TestPopReadyDispatchesLowerPriorityWhenHigherNotEligible(t *testing.T) {
	var mu sync.Mutex
	var startOrder []string
	exec := &fakeExecutor{
		run: func(attempt int, t *tasks.Task) (*tasks.Result, error) {
			mu.Lock()
			startOrder = append(startOrder, t.Name)
			mu.Unlock()
			return &tasks.Result{Success: true}, nil
		},
	}
	cfg := DefaultConfig()
	cfg.MaxConcurrentTasks = 1
	cfg.OversubscriptionFactor = 1
	q := New(exec, cfg, nil)

	high := tasks.New("high", "", tasks.TypeHealthCheck, tasks.PriorityHigh, nil)
	high.QueuedAt = time.Now()
	highID, _ := q.Submit(high)
	q.mu.Lock()
	if e, ok := q.pqIndex[highID]; ok {
		e.scheduledAt = time.Now().Add(time.Hour) // simulate a backoff-scheduled retry
	}
	q.mu.Unlock()

	low := tasks.New("low", "", tasks.TypeHealthCheck, tasks.PriorityLow, nil)
	lowID, _ := q.Submit(low)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartProcessing(ctx)
	defer q.StopProcessing(time.Second)

	waitForStatus(t, q, lowID, tasks.StatusCompleted, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(startOrder) == 0 || startOrder[0] != "low" {
		t.Fatalf("expected the ready low-priority task to dispatch while high was not yet eligible, got %v", startOrder)
	}
}
