package queue

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ironsheep/image-queue-server/internal/protocol"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue is at capacity.
	ErrQueueFull = errors.New("queue full")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("queue closed")
)

// Policy selects which resident job Dequeue returns.
type Policy int

const (
	FIFO Policy = iota
	SJN
)

func (p Policy) String() string {
	switch p {
	case FIFO:
		return "FIFO"
	case SJN:
		return "SJN"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy converts "FIFO" or "SJN" (any case) to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FIFO", "":
		return FIFO, nil
	case "SJN":
		return SJN, nil
	default:
		return FIFO, fmt.Errorf("invalid queue policy: %q", s)
	}
}

// Queue is a bounded, closable job queue safe for one producer and many
// consumers.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	ring   []*protocol.Meta
	head   int
	count  int
	policy Policy
	closed bool
}

// New creates a queue holding at most capacity jobs.
//
// Parameters:
//   - capacity: The number of jobs that may wait at once. Must be > 0.
//   - policy: FIFO or SJN, fixed for the life of the queue.
//
// Returns:
//   - *Queue: An empty, open queue.
//   - error: Non-nil if either argument is invalid.
func New(capacity int, policy Policy) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be > 0, got %d", capacity)
	}
	if policy != FIFO && policy != SJN {
		return nil, fmt.Errorf("unsupported queue policy: %v", policy)
	}

	q := &Queue{
		ring:   make([]*protocol.Meta, capacity),
		policy: policy,
	}
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

// Enqueue admits job without blocking.
//
// Parameters:
//   - job: The request to admit. The queue holds the pointer until a worker
//     dequeues it or Drain returns it.
//
// # Errors
//
//   - ErrQueueFull if capacity jobs are already waiting; job is not admitted
//   - ErrClosed after Close
func (q *Queue) Enqueue(job *protocol.Meta) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.count == len(q.ring) {
		return ErrQueueFull
	}

	q.ring[(q.head+q.count)%len(q.ring)] = job
	q.count++
	q.cond.Signal()
	return nil
}

// Dequeue blocks until a job is available and removes it from the queue.
//
// Returns:
//   - *protocol.Meta: The oldest job under FIFO, or the job with the
//     smallest declared length under SJN, ties going to the oldest.
//   - bool: false once the queue has been closed. Jobs still waiting at
//     that point are left for Drain.
func (q *Queue) Dequeue() (*protocol.Meta, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}

	idx := 0
	if q.policy == SJN {
		idx = q.shortestLocked()
	}
	return q.removeLocked(idx), true
}

// shortestLocked returns the ring offset of the first job with the smallest
// declared length.
func (q *Queue) shortestLocked() int {
	best := 0
	for i := 1; i < q.count; i++ {
		if q.at(i).Length < q.at(best).Length {
			best = i
		}
	}
	return best
}

// removeLocked takes the job at offset i out of the ring, keeping the
// admission order of the remaining jobs.
func (q *Queue) removeLocked(i int) *protocol.Meta {
	n := len(q.ring)
	job := q.at(i)

	for j := i; j > 0; j-- {
		q.ring[(q.head+j)%n] = q.ring[(q.head+j-1)%n]
	}
	q.ring[q.head] = nil
	q.head = (q.head + 1) % n
	q.count--
	return job
}

func (q *Queue) at(i int) *protocol.Meta {
	return q.ring[(q.head+i)%len(q.ring)]
}

// Len returns the number of resident jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Capacity returns the fixed capacity.
func (q *Queue) Capacity() int {
	return len(q.ring)
}

// Policy returns the active dequeue policy.
func (q *Queue) Policy() Policy {
	return q.policy
}

// Snapshot returns the ids of the resident jobs in the order they would be
// served.
func (q *Queue) Snapshot() []uint64 {
	q.mu.Lock()
	jobs := make([]*protocol.Meta, q.count)
	for i := range jobs {
		jobs[i] = q.at(i)
	}
	q.mu.Unlock()

	if q.policy == SJN {
		sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].Length < jobs[j].Length })
	}

	ids := make([]uint64, len(jobs))
	for i, job := range jobs {
		ids[i] = job.ID
	}
	return ids
}

// Close stops the queue. Blocked and future Dequeue calls return without a
// job and Enqueue fails with ErrClosed. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drain removes and returns the jobs still resident, in admission order.
// It is meant to be called after Close.
func (q *Queue) Drain() []*protocol.Meta {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*protocol.Meta, 0, q.count)
	for q.count > 0 {
		jobs = append(jobs, q.removeLocked(0))
	}
	return jobs
}
