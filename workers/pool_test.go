package workers_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/zksym/rpc"
	"github.com/spacemeshos/zksym/shared"
	"github.com/spacemeshos/zksym/workers"
)

func factory(t *testing.T, created *atomic.Int32, started chan<- struct{}) workers.Factory {
	return func(ctx context.Context) (*workers.Worker, error) {
		id := created.Add(1) - 1
		return workers.Start(ctx, func(ctx context.Context, ep *rpc.Endpoint) error {
			return rpc.Serve(ctx, ep, map[string]rpc.Handler{
				"id": func(context.Context, []any) (any, error) {
					return id, nil
				},
				"block": func(ctx context.Context, _ []any) (any, error) {
					started <- struct{}{}
					<-ctx.Done()
					return nil, ctx.Err()
				},
			}, zaptest.NewLogger(t))
		}, zaptest.NewLogger(t))
	}
}

func TestPoolRoundRobin(t *testing.T) {
	var created atomic.Int32
	var live atomic.Int32
	pool, err := workers.NewPool(3, factory(t, &created, nil),
		workers.WithLogger(zaptest.NewLogger(t)),
		workers.WithHooks(func() { live.Add(1) }, func(n int) { live.Add(-int32(n)) }),
	)
	require.NoError(t, err)

	var ids []int32
	for iter := 0; iter < 7; iter++ {
		w, err := pool.Next(context.Background())
		require.NoError(t, err)
		id, err := w.Call(context.Background(), "id")
		require.NoError(t, err)
		ids = append(ids, id.(int32))
	}
	require.Equal(t, []int32{0, 1, 2, 0, 1, 2, 0}, ids)
	require.Equal(t, int32(3), created.Load())
	require.Equal(t, 3, pool.Size())
	require.Equal(t, int32(3), live.Load())

	require.NoError(t, pool.Release())
	require.Equal(t, int32(0), live.Load())
	require.NoError(t, pool.Release())
}

func TestPoolCreatesLazily(t *testing.T) {
	var created atomic.Int32
	pool, err := workers.NewPool(4, factory(t, &created, nil))
	require.NoError(t, err)
	defer pool.Release()

	require.Equal(t, int32(0), created.Load())
	_, err = pool.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), created.Load())
}

func TestPoolConcurrentNext(t *testing.T) {
	var created atomic.Int32
	pool, err := workers.NewPool(2, factory(t, &created, nil))
	require.NoError(t, err)
	defer pool.Release()

	var eg errgroup.Group
	for iter := 0; iter < 20; iter++ {
		eg.Go(func() error {
			w, err := pool.Next(context.Background())
			if err != nil {
				return err
			}
			_, err = w.Call(context.Background(), "id")
			return err
		})
	}
	require.NoError(t, eg.Wait())
	require.Equal(t, int32(2), created.Load())
}

func TestPoolReleaseFailsOutstandingCalls(t *testing.T) {
	var created atomic.Int32
	started := make(chan struct{}, 1)
	pool, err := workers.NewPool(1, factory(t, &created, started))
	require.NoError(t, err)
	defer pool.Release()

	w, err := pool.Next(context.Background())
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := w.Call(context.Background(), "block")
		errc <- err
	}()
	<-started

	require.NoError(t, pool.Release())
	require.ErrorIs(t, <-errc, shared.ErrPoolTeardown)
	require.Equal(t, 0, pool.Size())

	// The pool starts over with new workers.
	w, err = pool.Next(context.Background())
	require.NoError(t, err)
	id, err := w.Call(context.Background(), "id")
	require.NoError(t, err)
	require.Equal(t, int32(1), id)
	require.Equal(t, int32(2), created.Load())
}

func TestPoolReleaseDoesNotWaitForHandlers(t *testing.T) {
	unblock := make(chan struct{})
	t.Cleanup(func() { close(unblock) })
	started := make(chan struct{})

	pool, err := workers.NewPool(1, func(ctx context.Context) (*workers.Worker, error) {
		return workers.Start(ctx, func(ctx context.Context, ep *rpc.Endpoint) error {
			return rpc.Serve(ctx, ep, map[string]rpc.Handler{
				"stuck": func(context.Context, []any) (any, error) {
					close(started)
					<-unblock
					return nil, nil
				},
			}, zaptest.NewLogger(t))
		}, zaptest.NewLogger(t))
	})
	require.NoError(t, err)

	w, err := pool.Next(context.Background())
	require.NoError(t, err)
	errc := make(chan error, 1)
	go func() {
		_, err := w.Call(context.Background(), "stuck")
		errc <- err
	}()
	<-started

	released := make(chan error, 1)
	go func() { released <- pool.Release() }()
	select {
	case err := <-released:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "release waited for a running handler")
	}
	require.ErrorIs(t, <-errc, shared.ErrPoolTeardown)
}

func TestPoolBootstrapFailure(t *testing.T) {
	errBoot := errors.New("memory snapshot too large")
	var fail atomic.Bool
	fail.Store(true)
	var created atomic.Int32
	pool, err := workers.NewPool(1, func(ctx context.Context) (*workers.Worker, error) {
		if fail.Load() {
			return workers.Start(ctx, func(context.Context, *rpc.Endpoint) error {
				return errBoot
			}, zaptest.NewLogger(t))
		}
		return factory(t, &created, nil)(ctx)
	})
	require.NoError(t, err)
	defer pool.Release()

	_, err = pool.Next(context.Background())
	require.ErrorIs(t, err, errBoot)
	_, err = pool.Next(context.Background())
	require.ErrorIs(t, err, errBoot)

	// Failures aren't kept: the next caller starts the worker again.
	fail.Store(false)
	w, err := pool.Next(context.Background())
	require.NoError(t, err)
	_, err = w.Call(context.Background(), "id")
	require.NoError(t, err)
	require.Equal(t, int32(1), created.Load())
}

func TestPoolCancelledCallerDoesNotFailWorker(t *testing.T) {
	var created atomic.Int32
	gate := make(chan struct{})
	start := factory(t, &created, nil)
	pool, err := workers.NewPool(1, func(ctx context.Context) (*workers.Worker, error) {
		<-gate
		return start(ctx)
	})
	require.NoError(t, err)
	defer pool.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
	close(gate)

	for iter := 0; iter < 3; iter++ {
		w, err := pool.Next(context.Background())
		require.NoError(t, err)
		_, err = w.Call(context.Background(), "id")
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), created.Load())
}

func TestNewPoolInvalidSize(t *testing.T) {
	_, err := workers.NewPool(0, nil)
	require.Error(t, err)
}
