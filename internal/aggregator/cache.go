package aggregator

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// surfaceCache memoizes the first successful load of one surface
// (tools/resources/templates/prompts): concurrent callers before the
// first success share the same in-flight load; a failed load is not
// cached, so the next caller retries (spec §4.F "lazy per-surface
// caches").
type surfaceCache[T any] struct {
	mu    sync.RWMutex
	ready bool
	value T

	sf singleflight.Group
}

func (s *surfaceCache[T]) get(ctx context.Context, load func(context.Context) (T, error)) (T, error) {
	if v, ok := s.snapshot(); ok {
		return v, nil
	}

	v, err, _ := s.sf.Do("load", func() (any, error) {
		if v, ok := s.snapshot(); ok {
			return v, nil
		}
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.value = value
		s.ready = true
		s.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (s *surfaceCache[T]) snapshot() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.ready
}

// reset clears the cache, forcing the next get to reload.
func (s *surfaceCache[T]) reset() {
	s.mu.Lock()
	var zero T
	s.value = zero
	s.ready = false
	s.mu.Unlock()
}
