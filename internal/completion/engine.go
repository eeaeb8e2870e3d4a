package completion

import (
	"context"
	"log/slog"
	"sync"

	"github.com/michael-pryor/MikeNet-sub001/internal/wire"
)

// Completion is one unit of finished I/O work: a receive that has data
// (or an error) ready for a Handler to act on. It mirrors the fields a
// completion-port dequeue returns: which resource it belongs to, how
// many bytes transferred, and the outcome.
type Completion struct {
	Key    Key
	Buffer *wire.Buffer
	Peer   wire.Address
	Err    error
}

// Handler processes one Completion. It runs on a worker goroutine and
// must not block indefinitely — the ordering invariant is that a
// socket's next receive is only re-armed after its Handler call for the
// previous one returns, so a slow Handler throttles that socket's
// throughput by design, not by accident.
type Handler func(ctx context.Context, c Completion)

// Engine is the shared worker pool every socket's read loop posts
// completions into. A fixed number of goroutines drain a single channel,
// the Go analogue of GetQueuedCompletionStatus threads pulling from one
// IOCP: it bounds total concurrency regardless of how many sockets are
// associated. Ordering within a socket is enforced by Post itself, not
// by the worker pool: Post blocks its caller until the Handler call for
// that Completion has actually run, so a socket's read loop (which only
// posts its next packet after the previous Post call returns) can never
// have two of its own completions in flight at once, even though
// unrelated sockets' completions are handled concurrently across workers.
type Engine struct {
	handler Handler
	logger  *slog.Logger
	queue   chan queuedCompletion
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// queuedCompletion pairs a Completion with the channel Post blocks on,
// closed by the worker that runs its Handler call. done is nil for
// completions enqueued via TryPost, which has no caller waiting.
type queuedCompletion struct {
	c    Completion
	done chan struct{}
}

// NewEngine creates an Engine with the given queue depth (twice workers
// when queueDepth <= 0); the number of worker goroutines is set by
// Start. handler is invoked by every worker for every posted Completion.
func NewEngine(workers, queueDepth int, handler Handler, logger *slog.Logger) *Engine {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = workers * 2
	}
	return &Engine{
		handler: handler,
		logger:  logger,
		queue:   make(chan queuedCompletion, queueDepth),
	}
}

// Start launches the worker pool. It returns immediately; workers run
// until ctx is cancelled. Calling Start twice is a no-op.
func (e *Engine) Start(ctx context.Context, workers int) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.workerLoop(ctx)
	}
}

func (e *Engine) workerLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case qc, ok := <-e.queue:
			if !ok {
				return
			}
			e.handler(ctx, qc.c)
			if qc.done != nil {
				close(qc.done)
			}
		}
	}
}

// Post enqueues a Completion and blocks until the Handler call for it
// has returned, or ctx is cancelled. Use Post for TCP and any mode where
// in-order delivery must not be sacrificed to load shedding: blocking
// the caller (the socket's read loop) until its own completion has been
// handled is what prevents two packets framed from the same read from
// being handled out of order by two different workers.
func (e *Engine) Post(ctx context.Context, c Completion) error {
	qc := queuedCompletion{c: c, done: make(chan struct{})}
	select {
	case e.queue <- qc:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-qc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPost enqueues a Completion without blocking, dropping it (and
// logging at debug level) if the queue is full. This is the receive
// path of a UDP socket in catch-all mode: keep the
// socket's read loop fast and shed load under overload rather than
// backing up the kernel receive buffer. TryPost never waits for the
// Handler call to run, since catch-all delivery has no ordering
// requirement across packets.
func (e *Engine) TryPost(c Completion) bool {
	select {
	case e.queue <- queuedCompletion{c: c}:
		return true
	default:
		if e.logger != nil {
			e.logger.Debug("completion: queue full, dropping", "key", c.Key)
		}
		return false
	}
}

// Stop waits for all worker goroutines to exit. Callers should have
// already cancelled the context passed to Start.
func (e *Engine) Stop() {
	e.wg.Wait()
}

// QueueLen reports the number of completions currently queued awaiting
// a worker, for metrics sampling.
func (e *Engine) QueueLen() int {
	return len(e.queue)
}
