// Package queue serializes control-thread graph mutations onto one
// goroutine so the audio thread never sees two topology changes
// interleaved.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotInitialized = errors.New("queue not initialized")
	ErrClosed         = errors.New("queue closed")
)

// Op is a graph mutation. It should be quick and must not block on the
// audio thread. The context is canceled on shutdown.
// It returns an error only for real failures; idempotent no-ops return nil.
type Op interface {
	Apply(ctx context.Context) error
}

// Func adapts a function into an Op.
type Func func(ctx context.Context) error

func (f Func) Apply(ctx context.Context) error { return f(ctx) }

// Queue runs operations one at a time in submission order.
type Queue struct {
	ch     chan Op
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu      sync.Mutex
	started bool
}

// New creates a queue with a fixed buffer. A nil logger discards output.
func New(buffer int, logger *zap.Logger) *Queue {
	if buffer <= 0 {
		buffer = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{ch: make(chan Op, buffer), ctx: ctx, cancel: cancel, logger: logger}
}

// Start begins the worker goroutine. Safe to call multiple times.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	q.wg.Add(1)
	go q.loop()
}

// Started reports whether the worker has been started.
func (q *Queue) Started() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.started
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			// drain outstanding ops best-effort with a short deadline
			drainUntil := time.After(10 * time.Millisecond)
			for {
				select {
				case op := <-q.ch:
					q.apply(op)
				case <-drainUntil:
					return
				default:
					return
				}
			}
		case op := <-q.ch:
			q.apply(op)
		}
	}
}

func (q *Queue) apply(op Op) {
	if op == nil {
		return
	}
	if err := op.Apply(q.ctx); err != nil {
		q.logger.Debug("queued operation failed", zap.Error(err))
	}
}

// Done is closed when the queue shuts down.
func (q *Queue) Done() <-chan struct{} { return q.ctx.Done() }

// Enqueue adds an operation to the queue.
func (q *Queue) Enqueue(op Op) error {
	if q == nil || q.ch == nil {
		return ErrNotInitialized
	}
	if q.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case q.ch <- op:
		return nil
	case <-q.ctx.Done():
		return ErrClosed
	}
}

// Close stops the worker and waits for it to finish.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.cancel()
	q.wg.Wait()
}
