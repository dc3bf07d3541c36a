// Package workers runs a fixed number of isolated execution contexts and
// hands them out round-robin.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spacemeshos/zksym/rpc"
	"github.com/spacemeshos/zksym/shared"
)

// Worker is a running execution context reachable over an rpc channel.
type Worker struct {
	*rpc.Channel

	link     *rpc.Link
	cancel   context.CancelFunc
	done     chan error
	stopOnce sync.Once
}

// Bootstrap prepares a context's private state and then serves requests on
// ep with rpc.Serve, which announces readiness. It runs on its own goroutine
// until ctx is done or the link closes.
type Bootstrap func(ctx context.Context, ep *rpc.Endpoint) error

// Start runs bootstrap on a new goroutine and waits until the context
// reports it is online.
func Start(ctx context.Context, bootstrap Bootstrap, logger *zap.Logger) (*Worker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	link := rpc.NewLink(1)
	workerCtx, cancel := context.WithCancel(context.Background())
	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()

	done := make(chan error, 1)
	go func() {
		err := bootstrap(workerCtx, link.Context())
		stopWaiting()
		done <- err
	}()

	w := &Worker{link: link, cancel: cancel, done: done}
	msg, err := link.Caller().Receive(waitCtx)
	switch {
	case err != nil && ctx.Err() == nil:
		// The context exited before coming online.
		if berr := w.terminate(); berr != nil {
			return nil, fmt.Errorf("worker bootstrap: %w", berr)
		}
		return nil, errors.New("worker exited before coming online")
	case err != nil:
		w.terminate()
		return nil, fmt.Errorf("waiting for worker: %w", err)
	case msg.Type != rpc.TypeOnline:
		w.terminate()
		return nil, fmt.Errorf("unexpected message from worker: %q", msg.Type)
	}
	w.Channel = rpc.NewChannel(link.Caller(), logger)
	return w, nil
}

// terminate stops the context and waits for its goroutine to exit.
func (w *Worker) terminate() error {
	w.stop()
	err := <-w.done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// stop fails the calls in flight and cancels the context without waiting for
// it to exit.
func (w *Worker) stop() {
	w.stopOnce.Do(func() {
		if w.Channel != nil {
			w.Channel.Close()
		}
		w.cancel()
		w.link.Close()
	})
}

// Factory creates a worker. The context passed to it is not cancelled when
// the caller of Pool.Next gives up.
type Factory func(ctx context.Context) (*Worker, error)

type slot struct {
	ready  chan struct{}
	worker *Worker
	err    error
}

// Pool holds up to a fixed number of workers. Workers are created on demand
// until the pool is full; Next then cycles through them in order.
type Pool struct {
	size    int
	factory Factory
	logger  *zap.Logger
	onStart func()
	onStop  func(n int)

	mu    sync.Mutex
	slots []*slot
	next  int
}

type option struct {
	logger  *zap.Logger
	onStart func()
	onStop  func(n int)
}

// OptionFunc is a function that sets an option for a Pool.
type OptionFunc func(*option)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) OptionFunc {
	return func(o *option) { o.logger = logger }
}

// WithHooks sets functions called when a worker starts and when workers are
// terminated.
func WithHooks(onStart func(), onStop func(n int)) OptionFunc {
	return func(o *option) {
		o.onStart = onStart
		o.onStop = onStop
	}
}

// NewPool returns an empty pool of the given size.
func NewPool(size int, factory Factory, opts ...OptionFunc) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("invalid pool size; expected: >= 1, given: %d", size)
	}
	options := &option{
		logger:  zap.NewNop(),
		onStart: func() {},
		onStop:  func(int) {},
	}
	for _, opt := range opts {
		opt(options)
	}
	return &Pool{
		size:    size,
		factory: factory,
		logger:  options.logger,
		onStart: options.onStart,
		onStop:  options.onStop,
	}, nil
}

// Next returns the next worker in round-robin order, creating it first if
// the pool isn't full yet. Callers assigned to a worker that is still
// starting wait for it until their ctx is done. A failed creation is
// returned to the callers waiting for it and retried by the next caller.
func (p *Pool) Next(ctx context.Context) (*Worker, error) {
	p.mu.Lock()
	var idx int
	if len(p.slots) < p.size {
		p.slots = append(p.slots, nil)
		idx = len(p.slots) - 1
	} else {
		idx = p.next
		p.next = (p.next + 1) % p.size
	}
	s := p.slots[idx]
	if s == nil {
		s = &slot{ready: make(chan struct{})}
		p.slots[idx] = s
		go p.create(context.WithoutCancel(ctx), idx, s)
	}
	p.mu.Unlock()

	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, fmt.Errorf("start worker %d: %w", idx, s.err)
	}
	return s.worker, nil
}

func (p *Pool) create(ctx context.Context, idx int, s *slot) {
	p.logger.Debug("starting worker", zap.Int("index", idx))
	w, err := p.factory(ctx)

	p.mu.Lock()
	current := idx < len(p.slots) && p.slots[idx] == s
	switch {
	case err != nil && current:
		p.slots[idx] = nil
	case err == nil && !current:
		err = shared.ErrPoolTeardown
	}
	s.err = err
	if err == nil {
		s.worker = w
	}
	close(s.ready)
	p.mu.Unlock()

	switch {
	case w != nil && !current:
		// Released while starting.
		p.stop(w)
	case err == nil:
		p.onStart()
	}
}

func (p *Pool) stop(w *Worker) {
	w.stop()
	go func() {
		if err := <-w.done; err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("worker exited with error", zap.Error(err))
		}
	}()
}

// Size returns the number of worker slots created so far.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Release terminates every worker without waiting for calls in flight, which
// fail with shared.ErrPoolTeardown. Workers still starting are terminated
// once they come online. The pool is empty afterwards, and Next starts new
// workers.
func (p *Pool) Release() error {
	p.mu.Lock()
	var running []*Worker
	for _, s := range p.slots {
		if s == nil {
			continue
		}
		select {
		case <-s.ready:
			if s.err == nil {
				running = append(running, s.worker)
			}
		default:
		}
	}
	p.slots = nil
	p.next = 0
	p.mu.Unlock()

	for _, w := range running {
		p.stop(w)
	}
	if len(running) > 0 {
		p.logger.Debug("workers terminated", zap.Int("count", len(running)))
		p.onStop(len(running))
	}
	return nil
}
