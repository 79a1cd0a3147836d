package queue

import (
	"context"
	"time"

	"github.com/CLIAIMONITOR/internal/errkind"
	"github.com/CLIAIMONITOR/internal/tasks"
)

// StartProcessing begins the dispatch loop in a background goroutine.
// It suspends only on: new submission, status change, retry timer, or
// stop signal, per spec.md §5.
func (q *Queue) StartProcessing(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go q.dispatchLoop(ctx)
}

// StopProcessing stops accepting new dispatches and waits up to
// gracePeriod for RUNNING tasks before force-cancelling the rest, per
// spec.md §5.
func (q *Queue) StopProcessing(gracePeriod time.Duration) {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})

	<-q.stopped

	deadline := time.After(gracePeriod)
	for len(q.GetByStatus(tasks.StatusRunning)) > 0 {
		select {
		case <-deadline:
			for _, t := range q.GetByStatus(tasks.StatusRunning) {
				q.requestCancel(t.ID)
			}
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *Queue) dispatchLoop(ctx context.Context) {
	defer close(q.stopped)

	cancels := make(map[string]context.CancelFunc)
	q.runningCancels = cancels

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		q.reevaluateDependencies()

		q.mu.Lock()
		now := time.Now()
		entry := q.popReady(now)
		if entry == nil {
			wait := 5 * time.Second
			if sched, ok := q.nextScheduledAt(); ok {
				if d := sched.Sub(now); d > 0 && d < wait {
					wait = d
				}
			}
			q.mu.Unlock()
			select {
			case <-q.stopCh:
				return
			case <-ctx.Done():
				return
			case <-q.wake:
			case <-time.After(wait):
			}
			continue
		}
		t, ok := q.tasks[entry.id]
		if !ok {
			q.mu.Unlock()
			continue
		}
		if err := t.TransitionTo(tasks.StatusRunning); err != nil {
			// Lost a race (e.g. cancelled between pop and here); skip.
			q.mu.Unlock()
			continue
		}
		t.StartedAt = time.Now()
		q.mu.Unlock()
		q.notify(t)
		q.publish("tasks.started", t)

		select {
		case q.sem <- struct{}{}:
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, time.Duration(t.TimeoutMs)*time.Millisecond)
		q.mu.Lock()
		cancels[t.ID] = cancel
		q.mu.Unlock()

		go q.runOne(taskCtx, cancel, t)
	}
}

func (q *Queue) requestCancel(id string) {
	q.mu.Lock()
	cancel, ok := q.runningCancels[id]
	q.mu.Unlock()
	if ok {
		cancel()
	}
}

// runOne executes t via the executor, applies the retry/terminal
// decision, and releases the capacity slot.
func (q *Queue) runOne(ctx context.Context, cancel context.CancelFunc, t *tasks.Task) {
	defer func() {
		<-q.sem
		q.mu.Lock()
		delete(q.runningCancels, t.ID)
		q.mu.Unlock()
		cancel()
	}()

	result, err := q.executor.Execute(ctx, t)

	q.mu.Lock()
	t.CompletedAt = time.Now()
	if result != nil {
		t.Result = result
	}

	if q.cancelRequested[t.ID] {
		delete(q.cancelRequested, t.ID)
		t.ErrorMessage = "cancelled"
		_ = t.TransitionTo(tasks.StatusCancelled)
		q.mu.Unlock()
		q.notify(t)
		q.publish("tasks.cancelled", t)
		q.onTerminal(t)
		return
	}

	switch {
	case err == nil && result != nil && result.Success:
		_ = t.TransitionTo(tasks.StatusCompleted)
		q.recordLatency(t)
		q.mu.Unlock()
		q.notify(t)
		q.publish("tasks.completed", t)
		q.onTerminal(t)
		return
	case ctx.Err() == context.DeadlineExceeded:
		t.ErrorMessage = "execution deadline exceeded"
		q.finishFailedLocked(t, errkind.New(errkind.Timeout, "handler exceeded timeoutMs").WithRetriable(true), tasks.StatusTimeout)
	case err != nil:
		t.ErrorMessage = err.Error()
		q.finishFailedLocked(t, err, tasks.StatusFailed)
	default:
		// result.Success == false with no error: treat as ProcessError.
		if result != nil {
			t.ErrorMessage = result.Output
		}
		q.finishFailedLocked(t, errkind.New(errkind.ProcessError, "handler reported failure").WithRetriable(true), tasks.StatusFailed)
	}
	q.mu.Unlock()
	q.notify(t)
	q.onTerminal(t)
}

// finishFailedLocked decides retry vs terminal-failure for t, per
// spec.md §4.1's retry policy. Must be called under q.mu; does not
// unlock.
func (q *Queue) finishFailedLocked(t *tasks.Task, cause error, terminalStatus tasks.Status) {
	retriable := errkind.IsRetriable(cause)
	if q.upstreamFailed(t) {
		_ = t.TransitionTo(tasks.StatusFailed)
		t.ErrorMessage = "UpstreamFailed: a dependency did not complete"
		q.publish("tasks.failed", t)
		return
	}

	if retriable && t.Retry.CurrentAttempt+1 < t.Retry.MaxAttempts {
		_ = t.TransitionTo(terminalStatus)
		_ = t.TransitionTo(tasks.StatusQueued)
		t.Retry.CurrentAttempt++
		backoff := t.Retry.Backoff()
		t.ScheduledNotBefore = time.Now().Add(backoff)
		t.QueuedAt = time.Now()
		q.pushEligible(t)
		q.publish("tasks.retrying", t)
		q.signalWake()
		return
	}

	_ = t.TransitionTo(terminalStatus)
	q.publish("tasks.failed", t)
}

func (q *Queue) recordLatency(t *tasks.Task) {
	if t.StartedAt.IsZero() || t.CompletedAt.IsZero() {
		return
	}
	latency := t.CompletedAt.Sub(t.StartedAt).Seconds() * 1000
	q.completedCount++
	q.totalLatencyMs += latency
	if q.firstCompletedAt.IsZero() {
		q.firstCompletedAt = t.CompletedAt
	}
	q.lastCompletedAt = t.CompletedAt
}

// onTerminal re-evaluates dependents and evicts stale terminal tasks
// beyond retention, per spec.md §4.1 Cleanup.
func (q *Queue) onTerminal(t *tasks.Task) {
	q.reevaluateDependencies()
	q.signalWake()
	q.evictStale()
}

// reevaluateDependencies promotes WAITING_FOR_DEPENDENCIES tasks whose
// dependencies are now all COMPLETED, and fails those with a
// terminally failed/cancelled dependency, per spec.md §4.1.
func (q *Queue) reevaluateDependencies() {
	q.mu.Lock()
	var toNotify []*tasks.Task
	for _, t := range q.tasks {
		if t.Status != tasks.StatusWaitingForDependencies {
			continue
		}
		if q.upstreamFailed(t) {
			_ = t.TransitionTo(tasks.StatusFailed)
			t.ErrorMessage = "UpstreamFailed: a dependency failed or was cancelled"
			toNotify = append(toNotify, t)
			continue
		}
		if !q.dependenciesPending(t) {
			_ = t.TransitionTo(tasks.StatusQueued)
			t.QueuedAt = time.Now()
			q.pushEligible(t)
			toNotify = append(toNotify, t)
		}
	}
	q.mu.Unlock()
	for _, t := range toNotify {
		q.notify(t)
		if t.Status == tasks.StatusFailed {
			q.publish("tasks.failed", t)
		} else {
			q.publish("tasks.waiting_resolved", t)
		}
	}
}

// evictStale drops terminal tasks beyond RetainPerStatus/RetainFor
// from the in-memory map, per spec.md §4.1 Cleanup. Their summaries
// are expected to already have been recorded to the StateManager's
// history ring via a Listener before eviction.
func (q *Queue) evictStale() {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-q.cfg.RetainFor)
	counts := map[tasks.Status]int{}
	type agedTask struct {
		id   string
		when time.Time
	}
	var candidates []agedTask
	for id, t := range q.tasks {
		if !t.Status.IsTerminal() {
			continue
		}
		counts[t.Status]++
		candidates = append(candidates, agedTask{id, t.CompletedAt})
	}
	for _, c := range candidates {
		if c.when.Before(cutoff) {
			delete(q.tasks, c.id)
			continue
		}
	}
	// Per-status cap: if still over RetainPerStatus for any status,
	// the oldest completedAt for that status is evicted first.
	byStatus := map[tasks.Status][]agedTask{}
	for id, t := range q.tasks {
		if t.Status.IsTerminal() {
			byStatus[t.Status] = append(byStatus[t.Status], agedTask{id, t.CompletedAt})
		}
	}
	for status, list := range byStatus {
		if len(list) <= q.cfg.RetainPerStatus {
			continue
		}
		// naive oldest-first eviction
		for len(list) > q.cfg.RetainPerStatus {
			oldestIdx := 0
			for i := range list {
				if list[i].when.Before(list[oldestIdx].when) {
					oldestIdx = i
				}
			}
			delete(q.tasks, list[oldestIdx].id)
			list = append(list[:oldestIdx], list[oldestIdx+1:]...)
		}
		_ = status
	}
}
