package proving

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Loader memoizes expensive one-time initialization by key. Concurrent first
// callers for a key share a single in-flight load. A successful result is
// kept until Reset; a failure is returned to the callers waiting on that
// load and the next call tries again.
type Loader[T any] struct {
	group singleflight.Group

	mu     sync.RWMutex
	loaded map[string]T
}

// Load returns the value for key, calling load if it isn't loaded yet. load
// runs detached from the cancellation of ctx so that one caller giving up
// doesn't fail the others; the caller itself stops waiting when ctx is done.
func (l *Loader[T]) Load(ctx context.Context, key string, load func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := l.get(key); ok {
		return v, nil
	}

	ch := l.group.DoChan(key, func() (any, error) {
		if v, ok := l.get(key); ok {
			return v, nil
		}
		v, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return v, err
		}
		l.mu.Lock()
		if l.loaded == nil {
			l.loaded = make(map[string]T)
		}
		l.loaded[key] = v
		l.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Reset forgets every loaded value and returns them.
func (l *Loader[T]) Reset() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	values := make([]T, 0, len(l.loaded))
	for _, v := range l.loaded {
		values = append(values, v)
	}
	l.loaded = nil
	return values
}

func (l *Loader[T]) get(key string) (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.loaded[key]
	return v, ok
}
