// Package fetchcache caches REST payloads by resource URL and coalesces
// concurrent fetches of the same key into a single request.
package fetchcache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the resource at url.
type FetchFunc[V any] func(ctx context.Context, url string) (V, error)

// Observer receives one outcome per lookup: hit, miss, shared, error or bypass.
type Observer interface {
	ObserveCache(cache, outcome string)
}

const (
	OutcomeHit    = "hit"
	OutcomeMiss   = "miss"
	OutcomeShared = "shared"
	OutcomeError  = "error"
	OutcomeBypass = "bypass"
)

// Cache is safe for concurrent use. Entries never expire; callers that need a
// fresh copy use Refresh.
type Cache[V any] struct {
	name     string
	fetch    FetchFunc[V]
	observer Observer

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]V
}

func New[V any](name string, fetch FetchFunc[V], observer Observer) *Cache[V] {
	return &Cache[V]{
		name:     name,
		fetch:    fetch,
		observer: observer,
		entries:  make(map[string]V),
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// FetchIfAbsent returns the cached payload for key, or fetches url. Callers
// racing on the same key wait for one shared request. A failed fetch stores
// nothing and its error is returned to every waiter.
func (c *Cache[V]) FetchIfAbsent(ctx context.Context, key, url string) (V, error) {
	if v, ok := c.Get(key); ok {
		c.observe(OutcomeHit)
		return v, nil
	}
	return c.do(ctx, key, url, true)
}

// Refresh fetches url even when key is cached and overwrites the entry.
// It still shares an in-flight request for key.
func (c *Cache[V]) Refresh(ctx context.Context, key, url string) (V, error) {
	return c.do(ctx, key, url, false)
}

// FetchAlways fetches url directly. It neither reads nor writes the cache.
// The request runs to completion even when ctx is cancelled.
func (c *Cache[V]) FetchAlways(ctx context.Context, url string) (V, error) {
	c.observe(OutcomeBypass)
	v, err := c.fetch(context.WithoutCancel(ctx), url)
	if err != nil {
		c.observe(OutcomeError)
	}
	return v, err
}

// do records one outcome per lookup: the caller whose closure ran reports
// hit, miss or error; callers that joined it report shared or error.
func (c *Cache[V]) do(ctx context.Context, key, url string, useCached bool) (V, error) {
	led := false
	ch := c.group.DoChan(key, func() (any, error) {
		led = true
		if useCached {
			if v, ok := c.Get(key); ok {
				c.observe(OutcomeHit)
				return v, nil
			}
		}
		// The request outlives any single waiter so the entry is always populated.
		v, err := c.fetch(context.WithoutCancel(ctx), url)
		if err != nil {
			c.observe(OutcomeError)
			return v, err
		}
		c.mu.Lock()
		c.entries[key] = v
		c.mu.Unlock()
		c.observe(OutcomeMiss)
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		if !led {
			if res.Err != nil {
				c.observe(OutcomeError)
			} else {
				c.observe(OutcomeShared)
			}
		}
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

func (c *Cache[V]) observe(outcome string) {
	if c.observer != nil {
		c.observer.ObserveCache(c.name, outcome)
	}
}

// JSON adapts a JSON getter, such as backend.Client.GetJSON, to a FetchFunc.
func JSON[V any](get func(ctx context.Context, url string, out any) error) FetchFunc[V] {
	return func(ctx context.Context, url string) (V, error) {
		var v V
		if err := get(ctx, url, &v); err != nil {
			var zero V
			return zero, err
		}
		return v, nil
	}
}
