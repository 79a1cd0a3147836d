package tasks

import (
	"testing"
	"time"
)

func TestNewDefaultsToMediumPriority(t *testing.T) {
	task := New("probe", "", TypeHealthCheck, "", nil)
	if task.Priority != PriorityMedium {
		t.Fatalf("expected MEDIUM default priority, got %s", task.Priority)
	}
	if task.Status != StatusPending {
		t.Fatalf("expected PENDING on creation, got %s", task.Status)
	}
}

func TestPriorityOrdinal(t *testing.T) {
	cases := []struct {
		p    Priority
		want int
	}{
		{PriorityCritical, 1},
		{PriorityHigh, 2},
		{PriorityMedium, 3},
		{PriorityLow, 4},
		{PriorityBackground, 5},
		{Priority("bogus"), 3},
	}
	for _, c := range cases {
		if got := c.p.Ordinal(); got != c.want {
			t.Errorf("Ordinal(%s) = %d, want %d", c.p, got, c.want)
		}
	}
}

func TestTransitionToValidPath(t *testing.T) {
	task := New("t", "", TypeShellCommand, PriorityHigh, map[string]interface{}{"command": "echo hi"})
	steps := []Status{StatusQueued, StatusRunning, StatusCompleted}
	for _, s := range steps {
		if err := task.TransitionTo(s); err != nil {
			t.Fatalf("unexpected error transitioning to %s: %v", s, err)
		}
	}
	if task.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", task.Status)
	}
}

func TestTransitionToRejectsInvalid(t *testing.T) {
	task := New("t", "", TypeShellCommand, PriorityHigh, map[string]interface{}{"command": "echo hi"})
	if err := task.TransitionTo(StatusCompleted); err == nil {
		t.Fatal("expected error jumping PENDING -> COMPLETED directly")
	}
}

func TestTransitionToTerminalIsPermanent(t *testing.T) {
	task := New("t", "", TypeShellCommand, PriorityHigh, map[string]interface{}{"command": "echo hi"})
	task.TransitionTo(StatusQueued)
	task.TransitionTo(StatusRunning)
	task.TransitionTo(StatusCompleted)
	if err := task.TransitionTo(StatusQueued); err == nil {
		t.Fatal("expected COMPLETED to reject further transitions")
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	r := RetryPolicy{MaxAttempts: 4, BackoffBaseMs: 100}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
	}
	for _, c := range cases {
		r.CurrentAttempt = c.attempt
		if got := r.Backoff(); got != c.want {
			t.Errorf("attempt %d: backoff = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestRetryPolicyBackoffCap(t *testing.T) {
	r := RetryPolicy{MaxAttempts: 20, BackoffBaseMs: 1000, CurrentAttempt: 15}
	if got := r.Backoff(); got != MaxBackoff {
		t.Fatalf("expected backoff capped at %v, got %v", MaxBackoff, got)
	}
}

func TestIsEligible(t *testing.T) {
	task := New("t", "", TypeShellCommand, PriorityMedium, map[string]interface{}{"command": "x"})
	now := time.Now()
	if task.IsEligible(now) {
		t.Fatal("PENDING task should not be eligible")
	}
	task.TransitionTo(StatusQueued)
	if !task.IsEligible(now) {
		t.Fatal("QUEUED task with no schedule delay should be eligible")
	}
	task.ScheduledNotBefore = now.Add(time.Minute)
	if task.IsEligible(now) {
		t.Fatal("task scheduled in the future should not be eligible yet")
	}
	if !task.IsEligible(now.Add(2 * time.Minute)) {
		t.Fatal("task should become eligible once scheduledNotBefore elapses")
	}
}

func TestTruncateOutput(t *testing.T) {
	small := "hello"
	if out, truncated := TruncateOutput(small); out != small || truncated {
		t.Fatalf("small output should pass through untruncated")
	}
	big := make([]byte, MaxOutputBytes+10)
	out, truncated := TruncateOutput(string(big))
	if !truncated || len(out) != MaxOutputBytes {
		t.Fatalf("expected truncation at %d bytes, got %d (truncated=%v)", MaxOutputBytes, len(out), truncated)
	}
}
