package conv

import "sync"

// Cache maps parameter fingerprints to a previously selected algorithm
// for one convolution direction. Entries persist for the cache's
// lifetime; there is no eviction. The lock covers only the map access,
// never the benchmarking search that produces an entry, so concurrent
// searches for the same fingerprint may race. That race is accepted:
// both produce admissible algorithms and the last insert wins.
//
// Caches are constructed explicitly and owned by an Engine rather than
// living in package state, so independent engines never share or
// pollute each other's benchmark results.
type Cache[A any] struct {
	mu      sync.Mutex
	entries map[paramsKey]A
}

// NewCache creates an empty algorithm cache.
func NewCache[A any]() *Cache[A] {
	return &Cache[A]{entries: make(map[paramsKey]A)}
}

// Find returns the cached algorithm for p, if any.
func (c *Cache[A]) Find(p *Params) (A, bool) {
	key := p.encode()
	c.mu.Lock()
	defer c.mu.Unlock()
	algo, ok := c.entries[key]
	return algo, ok
}

// Insert records the algorithm for p, overwriting any previous entry.
func (c *Cache[A]) Insert(p *Params, algo A) {
	key := p.encode()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = algo
}

// Len reports the number of cached fingerprints.
func (c *Cache[A]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
