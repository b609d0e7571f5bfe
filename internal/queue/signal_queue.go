package queue

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// DefaultCapacity bounds the queue when no capacity is configured.
const DefaultCapacity = 100

// DefaultArchiveSize is the number of processed signals kept for inspection.
const DefaultArchiveSize = 500

// Status is a point-in-time view of the queue.
type Status struct {
	Size      int             `json:"size"`
	Capacity  int             `json:"capacity"`
	Pending   []domain.Signal `json:"pending"`
	Processed int64           `json:"processed"`
}

// Option configures a Queue.
type Option func(*Queue)

// WithArchiveSize sets how many dequeued signals Processed can return.
func WithArchiveSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.archiveSize = n
		}
	}
}

// Queue is a bounded priority queue of signals. Higher priority dequeues
// first and equal priorities keep arrival order. At most one entry exists per
// (account, token, kind). Every method takes the same mutex, so the queue is
// safe for concurrent producers and consumers.
type Queue struct {
	mu          sync.Mutex
	items       []domain.Signal
	keys        map[string]struct{}
	capacity    int
	archive     []domain.Signal
	archiveSize int
	processed   int64
	ready       chan struct{}
}

// New creates a Queue holding at most capacity signals.
func New(capacity int, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		keys:        make(map[string]struct{}),
		capacity:    capacity,
		archiveSize: DefaultArchiveSize,
		ready:       make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func dedupKey(s domain.Signal) string {
	return s.AccountID + "\x00" + s.Token + "\x00" + string(s.Kind)
}

// Enqueue inserts s and reports whether it was accepted. It returns false when
// an entry with the same account, token and kind is already queued, or when
// the queue is full. Full queues never evict.
func (q *Queue) Enqueue(s domain.Signal) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := dedupKey(s)
	if _, dup := q.keys[key]; dup {
		return false
	}
	if len(q.items) >= q.capacity {
		return false
	}

	// Stable insertion: before the first entry with strictly lower priority.
	pos := len(q.items)
	for i, it := range q.items {
		if it.Priority < s.Priority {
			pos = i
			break
		}
	}
	q.items = append(q.items, domain.Signal{})
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = s
	q.keys[key] = struct{}{}

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Dequeue removes and returns the head of the queue. The boolean is false
// when the queue is empty.
func (q *Queue) Dequeue() (domain.Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() (domain.Signal, bool) {
	if len(q.items) == 0 {
		return domain.Signal{}, false
	}
	s := q.items[0]
	q.items[0] = domain.Signal{}
	q.items = q.items[1:]
	delete(q.keys, dedupKey(s))

	q.processed++
	q.archive = append(q.archive, s)
	if over := len(q.archive) - q.archiveSize; over > 0 {
		q.archive = append(q.archive[:0:0], q.archive[over:]...)
	}
	return s, true
}

// Wait dequeues the head of the queue, blocking until a signal arrives, poll
// elapses, or ctx is done. It returns false when nothing was dequeued.
func (q *Queue) Wait(ctx context.Context, poll time.Duration) (domain.Signal, bool) {
	if s, ok := q.Dequeue(); ok {
		return s, true
	}

	timer := time.NewTimer(poll)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return domain.Signal{}, false
	case <-timer.C:
	case <-q.ready:
	}
	return q.Dequeue()
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (domain.Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.Signal{}, false
	}
	return q.items[0], true
}

// Len returns the number of queued signals.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued signal and returns how many were removed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	q.keys = make(map[string]struct{})
	return n
}

// Status returns the queue size, capacity, a copy of the pending signals in
// dequeue order, and the number of signals dequeued so far.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := make([]domain.Signal, len(q.items))
	copy(pending, q.items)
	return Status{
		Size:      len(q.items),
		Capacity:  q.capacity,
		Pending:   pending,
		Processed: q.processed,
	}
}

// Processed returns up to limit of the most recently dequeued signals, newest
// first. A limit <= 0 returns the whole archive.
func (q *Queue) Processed(limit int) []domain.Signal {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.archive)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Signal, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, q.archive[i])
	}
	return out
}
