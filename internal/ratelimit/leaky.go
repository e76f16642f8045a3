package ratelimit

import (
	"sync"
	"time"
)

// LeakyBucket smooths arrivals to a constant drain rate: admitted items
// queue up and leak out oldest-first, independent of how they arrived.
// Suited to high-frequency low-value events such as typing indicators.
type LeakyBucket struct {
	mu       sync.Mutex
	capacity int
	leakRate float64
	queue    []time.Time
	credit   float64
	last     time.Time
	now      func() time.Time
}

func NewLeakyBucket(capacity int, leakRate float64) *LeakyBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if leakRate <= 0 {
		leakRate = 1
	}
	b := &LeakyBucket{
		capacity: capacity,
		leakRate: leakRate,
		now:      time.Now,
	}
	b.last = b.now()
	return b
}

// TryAdd admits one item if, after leaking, the queue is below capacity.
func (b *LeakyBucket) TryAdd() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.leak()
	if len(b.queue) >= b.capacity {
		return false
	}
	b.queue = append(b.queue, b.now())
	return true
}

func (b *LeakyBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.leak()
	return len(b.queue)
}

func (b *LeakyBucket) leak() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	if elapsed <= 0 {
		return
	}

	// Fractional leak carries over so slow drips still drain the queue.
	b.credit += elapsed * b.leakRate
	drop := int(b.credit)
	if drop <= 0 {
		return
	}
	b.credit -= float64(drop)
	if drop >= len(b.queue) {
		b.queue = b.queue[:0]
		return
	}
	b.queue = b.queue[drop:]
}
