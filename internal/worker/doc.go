// Package worker runs the fixed pool of goroutines that drain a connection's
// queue.
//
// Each worker has an integer id (0..n-1) that it passes to the Handler with
// every job, so audit lines from different workers can be told apart. A
// worker blocks only inside queue.Dequeue; it exits when the queue is closed.
//
// Stop is a barrier: it closes the queue and returns only after every worker
// has finished its current job and exited. Once Stop returns, no Handler call
// is in progress and none will start.
package worker
