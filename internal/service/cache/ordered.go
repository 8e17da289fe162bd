package cache

// Ordered is a map that remembers insertion order. Overwriting an existing
// key keeps its original position. It is not safe for concurrent use; the
// owner serialises access.
type Ordered[K comparable, V any] struct {
	keys []K
	m    map[K]V
}

func NewOrdered[K comparable, V any]() *Ordered[K, V] {
	return &Ordered[K, V]{m: make(map[K]V)}
}

func (c *Ordered[K, V]) Get(key K) (V, bool) {
	v, ok := c.m[key]
	return v, ok
}

func (c *Ordered[K, V]) Set(key K, v V) {
	if _, ok := c.m[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.m[key] = v
}

func (c *Ordered[K, V]) Has(key K) bool {
	_, ok := c.m[key]
	return ok
}

func (c *Ordered[K, V]) Delete(key K) bool {
	if _, ok := c.m[key]; !ok {
		return false
	}
	delete(c.m, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
	return true
}

// DeleteFunc removes every entry whose key matches and returns how many went.
func (c *Ordered[K, V]) DeleteFunc(match func(K) bool) int {
	kept := c.keys[:0]
	n := 0
	for _, k := range c.keys {
		if match(k) {
			delete(c.m, k)
			n++
			continue
		}
		kept = append(kept, k)
	}
	c.keys = kept
	return n
}

// EvictOldest drops the n earliest inserted entries.
func (c *Ordered[K, V]) EvictOldest(n int) int {
	if n <= 0 {
		return 0
	}
	if n > len(c.keys) {
		n = len(c.keys)
	}
	for _, k := range c.keys[:n] {
		delete(c.m, k)
	}
	c.keys = append(c.keys[:0], c.keys[n:]...)
	return n
}

// Keys returns the keys in insertion order.
func (c *Ordered[K, V]) Keys() []K {
	out := make([]K, len(c.keys))
	copy(out, c.keys)
	return out
}

func (c *Ordered[K, V]) Len() int { return len(c.keys) }

func (c *Ordered[K, V]) Clear() {
	c.keys = nil
	c.m = make(map[K]V)
}
