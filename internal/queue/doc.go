// Package queue implements the bounded admission queue shared by a
// connection's request router and its workers.
//
// The queue is a fixed-capacity ring of *protocol.Meta. Enqueue never blocks:
// a full queue rejects the job with ErrQueueFull and the caller answers the
// client itself. Dequeue blocks until a job is available or the queue is
// closed.
//
// # Capacity
//
// Only waiting jobs occupy a slot. A job leaves the queue the moment a worker
// dequeues it, so with one worker and capacity 1 a third request is rejected
// while the first is being processed and the second is waiting.
//
// # Policies
//
//   - FIFO: jobs are served in admission order.
//   - SJN: the resident job with the smallest declared length is served
//     first; equal lengths are served in admission order.
//
// The policy only decides which job a worker pulls next. It does not change
// the wire format and does not order responses across workers.
//
// # Shutdown
//
// Close wakes every blocked Dequeue and makes all later calls return without
// a job, even if jobs are still resident. Drain hands those leftovers back to
// the owner.
package queue
