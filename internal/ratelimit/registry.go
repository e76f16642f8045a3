package ratelimit

import (
	"errors"
	"sync"
	"time"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// Action is a category of user activity with its own limiter policy.
type Action string

const (
	ActionMessage   Action = "message"
	ActionMicToggle Action = "mic-toggle"
	ActionTyping    Action = "typing"
	ActionRoomJoin  Action = "room-join"
)

type PolicyKind string

const (
	PolicyToken PolicyKind = "token"
	PolicyLeaky PolicyKind = "leaky"
)

type Policy struct {
	Kind     PolicyKind
	Capacity float64
	Rate     float64
}

// DefaultPolicies: bursty-but-rare actions get token buckets, cheap
// high-frequency actions get leaky smoothing.
func DefaultPolicies() map[Action]Policy {
	return map[Action]Policy{
		ActionMessage:   {Kind: PolicyToken, Capacity: 10, Rate: 2},
		ActionMicToggle: {Kind: PolicyToken, Capacity: 5, Rate: 1},
		ActionTyping:    {Kind: PolicyLeaky, Capacity: 3, Rate: 1},
		ActionRoomJoin:  {Kind: PolicyToken, Capacity: 3, Rate: 0.5},
	}
}

type bucketKey struct {
	action Action
	userID string
}

type limiter interface {
	allow() bool
	retryIn() time.Duration
}

type tokenLimiter struct{ *TokenBucket }

func (l tokenLimiter) allow() bool            { return l.TryConsume(1) }
func (l tokenLimiter) retryIn() time.Duration { return l.TimeUntilNextToken() }

type leakyLimiter struct{ *LeakyBucket }

func (l leakyLimiter) allow() bool { return l.TryAdd() }

func (l leakyLimiter) retryIn() time.Duration {
	if l.Len() < l.capacity {
		return 0
	}
	return time.Duration(float64(time.Second) / l.leakRate)
}

// Registry owns one independently configured limiter per (action, user)
// pair, created lazily on first use.
type Registry struct {
	mu       sync.Mutex
	policies map[Action]Policy
	buckets  map[bucketKey]limiter
}

func NewRegistry(policies map[Action]Policy) *Registry {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Registry{
		policies: policies,
		buckets:  make(map[bucketKey]limiter),
	}
}

// Allow reports whether userID may perform action right now, consuming
// budget on success.
func (r *Registry) Allow(action Action, userID string) bool {
	return r.bucket(action, userID).allow()
}

// RetryIn hints how long the caller should wait before retrying.
func (r *Registry) RetryIn(action Action, userID string) time.Duration {
	return r.bucket(action, userID).retryIn()
}

// Do runs fn only if the limiter admits the action, otherwise it returns
// ErrRateLimited so callers can surface a cooldown.
func (r *Registry) Do(action Action, userID string, fn func() error) error {
	if !r.Allow(action, userID) {
		return ErrRateLimited
	}
	return fn()
}

// Reset drops every bucket belonging to userID. Called when a session ends.
func (r *Registry) Reset(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.buckets {
		if key.userID == userID {
			delete(r.buckets, key)
		}
	}
}

func (r *Registry) bucket(action Action, userID string) limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := bucketKey{action: action, userID: userID}
	if b, ok := r.buckets[key]; ok {
		return b
	}

	policy, ok := r.policies[action]
	if !ok {
		// Unknown actions get the most conservative default.
		policy = Policy{Kind: PolicyToken, Capacity: 1, Rate: 0.5}
	}

	var b limiter
	switch policy.Kind {
	case PolicyLeaky:
		b = leakyLimiter{NewLeakyBucket(int(policy.Capacity), policy.Rate)}
	default:
		b = tokenLimiter{NewTokenBucket(policy.Capacity, policy.Rate)}
	}
	r.buckets[key] = b
	return b
}
