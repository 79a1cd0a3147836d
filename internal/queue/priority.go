package queue

import (
	"container/heap"
	"time"

	"github.com/CLIAIMONITOR/internal/tasks"
)

// pqEntry is one task's position in the eligibility heap. scheduledAt
// defaults to queuedAt but is bumped to now+backoff on retry, per
// spec.md §4.1's ordering discipline: tasks are compared on
// (priority ordinal, scheduledAt, queuedAt), ties broken by id.
type pqEntry struct {
	id          string
	priority    int
	scheduledAt time.Time
	queuedAt    time.Time
	index       int
}

type priorityHeap []*pqEntry

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	if !a.scheduledAt.Equal(b.scheduledAt) {
		return a.scheduledAt.Before(b.scheduledAt)
	}
	if !a.queuedAt.Equal(b.queuedAt) {
		return a.queuedAt.Before(b.queuedAt)
	}
	return a.id < b.id
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x interface{}) {
	e := x.(*pqEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// pushEligible admits t into the dispatch heap as QUEUED. Must be
// called under q.mu.
func (q *Queue) pushEligible(t *tasks.Task) {
	scheduledAt := t.ScheduledNotBefore
	if scheduledAt.IsZero() {
		scheduledAt = t.QueuedAt
	}
	e := &pqEntry{
		id:          t.ID,
		priority:    t.Priority.Ordinal(),
		scheduledAt: scheduledAt,
		queuedAt:    t.QueuedAt,
	}
	q.pqIndex[t.ID] = e
	heap.Push(&q.pq, e)
}

// removeFromPQ drops id from the dispatch heap if present. Must be
// called under q.mu.
func (q *Queue) removeFromPQ(id string) {
	e, ok := q.pqIndex[id]
	if !ok {
		return
	}
	heap.Remove(&q.pq, e.index)
	delete(q.pqIndex, id)
}

// popReady pops and returns the best entry whose scheduledAt has
// elapsed, or nil if none is ready yet. The ordering invariant (higher
// priority, earlier scheduledAt/queuedAt first) only binds among
// entries that are actually eligible now: a backoff-scheduled retry
// sitting at the heap root must not block a lower-priority task that
// is ready, so this scans the whole heap for the best ready entry
// instead of only inspecting the root, per spec.md §8. Must be called
// under q.mu.
func (q *Queue) popReady(now time.Time) *pqEntry {
	best := -1
	for i, e := range q.pq {
		if e.scheduledAt.After(now) {
			continue
		}
		if best == -1 || q.pq.Less(i, best) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	e := heap.Remove(&q.pq, best).(*pqEntry)
	delete(q.pqIndex, e.id)
	return e
}

// nextScheduledAt returns the earliest scheduledAt among pending
// entries, used to size the dispatch loop's idle wait. Must be called
// under q.mu.
func (q *Queue) nextScheduledAt() (time.Time, bool) {
	if q.pq.Len() == 0 {
		return time.Time{}, false
	}
	earliest := q.pq[0].scheduledAt
	for _, e := range q.pq[1:] {
		if e.scheduledAt.Before(earliest) {
			earliest = e.scheduledAt
		}
	}
	return earliest, true
}
