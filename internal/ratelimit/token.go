package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket permits bursts up to its capacity; tokens refill continuously
// with elapsed time and never exceed capacity.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64
	tokens     float64
	last       time.Time
	now        func() time.Time
}

func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}
	b := &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		now:        time.Now,
	}
	b.last = b.now()
	return b
}

// TryConsume deducts n tokens if available. A failed attempt has no side
// effect beyond the refill bookkeeping.
func (b *TokenBucket) TryConsume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	return b.tokens
}

// TimeUntilNextToken is a retry hint: zero when a whole token is already
// available.
func (b *TokenBucket) TimeUntilNextToken() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	missing := 1 - b.tokens
	return time.Duration(missing / b.refillRate * float64(time.Second))
}

func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}
