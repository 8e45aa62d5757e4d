package worker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironsheep/image-queue-server/internal/protocol"
	"github.com/ironsheep/image-queue-server/internal/queue"
)

// ErrAlreadyStarted is returned by Start on a pool that is running or stopped.
var ErrAlreadyStarted = errors.New("worker pool already started")

// Handler processes one dequeued job. It must produce the job's response
// before returning.
type Handler interface {
	Handle(workerID int, job *protocol.Meta)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(workerID int, job *protocol.Meta)

// Handle calls f(workerID, job).
func (f HandlerFunc) Handle(workerID int, job *protocol.Meta) {
	f(workerID, job)
}

// Option configures a Pool.
type Option func(*Pool)

// WithStartHook runs hook on each worker before it starts dequeuing. If any
// hook fails, Start tears the pool down and returns the error.
func WithStartHook(hook func(workerID int) error) Option {
	return func(p *Pool) {
		p.startHook = hook
	}
}

// WithClock overrides the time source used to stamp job start times.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// Pool owns the lifecycle of a fixed set of workers bound to one queue.
type Pool struct {
	queue     *queue.Queue
	handler   Handler
	startHook func(workerID int) error
	now       func() time.Time
	logger    zerolog.Logger

	mu       sync.Mutex
	started  bool
	size     int
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPool creates a pool that will feed jobs from q to h.
func NewPool(q *queue.Queue, h Handler, logger zerolog.Logger, opts ...Option) *Pool {
	p := &Pool{
		queue:   q,
		handler: h,
		now:     time.Now,
		logger:  logger.With().Str("layer", "worker").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches n workers with ids 0..n-1.
//
// If a start hook fails, the workers already launched are stopped and joined
// before the error is returned; the pool cannot be restarted afterwards.
func (p *Pool) Start(n int) error {
	if n < 1 {
		return fmt.Errorf("worker count must be >= 1, got %d", n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true
	p.size = n

	ready := make(chan error, n)
	for id := 0; id < n; id++ {
		p.wg.Add(1)
		go p.run(id, ready)
	}

	var startErr error
	for i := 0; i < n; i++ {
		if err := <-ready; err != nil && startErr == nil {
			startErr = err
		}
	}
	if startErr != nil {
		p.stop()
		return fmt.Errorf("failed to start workers: %w", startErr)
	}

	p.logger.Debug().Int("workers", n).Str("policy", p.queue.Policy().String()).Msg("worker pool started")
	return nil
}

// run is the body of one worker.
func (p *Pool) run(id int, ready chan<- error) {
	defer p.wg.Done()

	if p.startHook != nil {
		if err := p.startHook(id); err != nil {
			ready <- fmt.Errorf("worker %d: %w", id, err)
			return
		}
	}
	ready <- nil

	p.logger.Debug().Int("worker", id).Msg("worker alive")
	for {
		job, ok := p.queue.Dequeue()
		if !ok {
			p.logger.Debug().Int("worker", id).Msg("worker exited")
			return
		}
		job.Started = p.now()
		p.safeHandle(id, job)
	}
}

// safeHandle keeps a panicking handler from killing the worker.
func (p *Pool) safeHandle(id int, job *protocol.Meta) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker", id).
				Uint64("request_id", job.ID).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()
	p.handler.Handle(id, job)
}

// Stop closes the queue and waits for every worker to exit. It is safe to
// call more than once and on a pool that was never started.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stop()
}

func (p *Pool) stop() {
	p.stopOnce.Do(func() {
		p.queue.Close()
		p.wg.Wait()
		if p.started {
			p.logger.Debug().Int("workers", p.size).Msg("worker pool stopped")
		}
	})
}

// Size returns the number of workers the pool was started with.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}
