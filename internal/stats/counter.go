package stats

import "sort"

// Entry is one item of a Counter with its count.
type Entry[K comparable] struct {
	Key   K
	Count int
}

// Counter is a multiset that remembers the order in which keys were first
// added. MostCommon breaks ties by that order.
type Counter[K comparable] struct {
	index   map[K]int
	entries []Entry[K]
}

// NewCounter returns an empty Counter.
func NewCounter[K comparable]() *Counter[K] {
	return &Counter[K]{index: make(map[K]int)}
}

// Add increments the count of key by one.
func (c *Counter[K]) Add(key K) {
	c.AddN(key, 1)
}

// AddN increments the count of key by n.
func (c *Counter[K]) AddN(key K, n int) {
	if i, ok := c.index[key]; ok {
		c.entries[i].Count += n
		return
	}
	c.index[key] = len(c.entries)
	c.entries = append(c.entries, Entry[K]{Key: key, Count: n})
}

// Get returns the count of key.
func (c *Counter[K]) Get(key K) int {
	if i, ok := c.index[key]; ok {
		return c.entries[i].Count
	}
	return 0
}

// Len returns the number of distinct keys.
func (c *Counter[K]) Len() int {
	return len(c.entries)
}

// Keys returns the distinct keys in first-seen order.
func (c *Counter[K]) Keys() []K {
	keys := make([]K, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.Key
	}
	return keys
}

// MostCommon returns the n entries with the highest counts, highest first.
// Equal counts keep first-seen order. n < 0 returns every entry.
func (c *Counter[K]) MostCommon(n int) []Entry[K] {
	sorted := make([]Entry[K], len(c.entries))
	copy(sorted, c.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Count > sorted[j].Count
	})
	if n >= 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}
