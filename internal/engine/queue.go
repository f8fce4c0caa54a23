package engine

import (
	"log/slog"
	"sync"

	"alerthub/internal/domain"
	"alerthub/internal/metrics"
)

// Queue is the unbounded FIFO of enriched non-critical alerts.
// Params: backlog warning threshold and logger.
// Returns: goroutine-safe buffer between producers and the batch processor.
type Queue struct {
	mu        sync.Mutex
	items     []domain.AlertRecord
	head      int
	threshold int
	warned    bool
	logger    *slog.Logger
}

// NewQueue creates empty queue.
func NewQueue(threshold int, logger *slog.Logger) *Queue {
	return &Queue{threshold: threshold, logger: logger}
}

// Push appends record.
// Params: enriched record.
// Returns: queue depth after the append; nothing is ever dropped.
func (q *Queue) Push(record domain.AlertRecord) int {
	q.mu.Lock()
	q.items = append(q.items, record)
	depth := len(q.items) - q.head
	crossed := q.threshold > 0 && depth > q.threshold && !q.warned
	if crossed {
		q.warned = true
	}
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	if crossed {
		metrics.BacklogWarningsTotal.Inc()
		if q.logger != nil {
			q.logger.Warn("ingestion backlog above threshold", "depth", depth, "threshold", q.threshold)
		}
	}
	return depth
}

// PopN removes up to n records in submission order.
func (q *Queue) PopN(n int) []domain.AlertRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	available := len(q.items) - q.head
	if n > available {
		n = available
	}
	if n <= 0 {
		return nil
	}
	out := make([]domain.AlertRecord, n)
	copy(out, q.items[q.head:q.head+n])
	for i := q.head; i < q.head+n; i++ {
		q.items[i] = domain.AlertRecord{}
	}
	q.head += n
	q.compactLocked()

	depth := len(q.items) - q.head
	if depth <= q.threshold {
		q.warned = false
	}
	metrics.QueueDepth.Set(float64(depth))
	return out
}

// Len returns pending record count.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *Queue) compactLocked() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head < 64 || q.head < len(q.items)/2 {
		return
	}
	remaining := copy(q.items, q.items[q.head:])
	q.items = q.items[:remaining]
	q.head = 0
}

// urgentLane holds critical alerts waiting for the actor.
// Params: none; the loop drains it before every task.
// Returns: goroutine-safe hand-off that never blocks the submitter.
type urgentLane struct {
	mu    sync.Mutex
	items []domain.AlertRecord
}

func (l *urgentLane) push(record domain.AlertRecord) {
	l.mu.Lock()
	l.items = append(l.items, record)
	l.mu.Unlock()
}

// take removes every record pushed so far in submission order.
func (l *urgentLane) take() []domain.AlertRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return nil
	}
	out := l.items
	l.items = nil
	return out
}

func (l *urgentLane) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
