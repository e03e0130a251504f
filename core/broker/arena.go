package broker

import "sync"

// arena tracks the logical byte footprint of every stored message and
// channel against a fixed capacity. It is the admission gate shared by all
// channels: a publish that would push usage past the capacity is rejected
// with ErrOutOfMemory after the global eviction pass has had its chance.
type arena struct {
	mu       sync.Mutex
	capacity int64 // 0 = unlimited
	used     int64
}

// reserve atomically checks and charges n bytes. It returns false when the
// charge would exceed the capacity, leaving usage unchanged.
func (a *arena) reserve(n int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.capacity > 0 && a.used+n > a.capacity {
		return false
	}
	a.used += n
	return true
}

func (a *arena) release(n int64) {
	a.mu.Lock()
	a.used -= n
	if a.used < 0 {
		a.used = 0
	}
	a.mu.Unlock()
}

func (a *arena) usedBytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

func (a *arena) capacityBytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capacity
}

// resize changes the capacity. The capacity of an arena holding live data is
// fixed; a resize attempt while any bytes are charged fails and the old
// capacity stays in effect.
func (a *arena) resize(capacity int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if capacity == a.capacity {
		return true
	}
	if a.used > 0 {
		return false
	}
	a.capacity = capacity
	return true
}
