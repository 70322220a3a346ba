// Package flight provides a per-key binary semaphore used to keep at most one
// availability operation in progress per restaurant.
package flight

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Guard hands out exclusive holds keyed by string. Entries for idle keys are
// dropped so the map does not grow with every restaurant ever seen.
type Guard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Guard {
	return &Guard{entries: make(map[string]*entry)}
}

func (g *Guard) ref(key string) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		g.entries[key] = e
	}
	e.refs++
	return e
}

func (g *Guard) unref(key string, e *entry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(g.entries, key)
	}
}

func (g *Guard) releaser(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			g.unref(key, e)
		})
	}
}

// TryAcquire takes the hold for key without waiting. ok is false when another
// caller holds it.
func (g *Guard) TryAcquire(key string) (release func(), ok bool) {
	e := g.ref(key)
	if !e.sem.TryAcquire(1) {
		g.unref(key, e)
		return nil, false
	}
	return g.releaser(key, e), true
}

// Acquire waits for the hold on key or for ctx to end.
func (g *Guard) Acquire(ctx context.Context, key string) (release func(), err error) {
	e := g.ref(key)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		g.unref(key, e)
		return nil, err
	}
	return g.releaser(key, e), nil
}

// Busy reports whether key is currently held or awaited.
func (g *Guard) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.entries[key]
	return ok
}
