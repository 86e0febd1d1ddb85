package api

import (
	"sync"
	"time"
)

// rateLimitWindow is the trailing interval admissions are counted over
const rateLimitWindow = time.Second

// RateLimit is the admission budget for one message type: a sustained
// per-second rate plus a burst allowance on top of it
type RateLimit struct {
	PerSecond int `json:"per_second" yaml:"per_second"`
	Burst     int `json:"burst" yaml:"burst"`
}

func (r RateLimit) capacity() int { return r.PerSecond + r.Burst }

// DefaultRateLimits returns the per-message-type admission budgets.
// Cursor traffic runs at interactive frequency; heartbeats are capped hard
func DefaultRateLimits() map[MessageType]RateLimit {
	return map[MessageType]RateLimit{
		MessageTypeCursorMove:    {PerSecond: 120, Burst: 50},
		MessageTypeDiagramUpdate: {PerSecond: 10, Burst: 5},
		MessageTypePing:          {PerSecond: 1, Burst: 0},
	}
}

// fallbackRateLimit applies to message types without an explicit budget
var fallbackRateLimit = RateLimit{PerSecond: 10, Burst: 2}

type rateLimitKey struct {
	userID  string
	msgType MessageType
}

// MessageRateLimiter admits messages per (participant, message type) by
// counting admissions in a sliding one-second window. An admission is
// recorded only when granted; rejected checks leave no trace. This is a
// plain windowed count, not a token bucket: a client may spend its whole
// burst instantly and then idle
type MessageRateLimiter struct {
	mu      sync.Mutex
	limits  map[MessageType]RateLimit
	history map[rateLimitKey][]time.Time
}

// NewMessageRateLimiter creates a limiter with the given budgets, falling
// back to DefaultRateLimits when nil
func NewMessageRateLimiter(limits map[MessageType]RateLimit) *MessageRateLimiter {
	if limits == nil {
		limits = DefaultRateLimits()
	}
	return &MessageRateLimiter{
		limits:  limits,
		history: make(map[rateLimitKey][]time.Time),
	}
}

// Limits returns a copy of the budget table, including the fallback entry,
// for the welcome envelope
func (l *MessageRateLimiter) Limits() map[MessageType]RateLimit {
	out := make(map[MessageType]RateLimit, len(l.limits)+1)
	for k, v := range l.limits {
		out[k] = v
	}
	if _, ok := out["default"]; !ok {
		out["default"] = fallbackRateLimit
	}
	return out
}

// Allow reports whether one message of the given type from the given
// participant is admitted at time now, recording the admission if so
func (l *MessageRateLimiter) Allow(userID string, msgType MessageType, now time.Time) bool {
	limit, ok := l.limits[msgType]
	if !ok {
		limit = fallbackRateLimit
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := rateLimitKey{userID: userID, msgType: msgType}
	history := l.history[key]

	// Evict admissions that fell out of the trailing window
	cutoff := now.Add(-rateLimitWindow)
	i := 0
	for i < len(history) && !history[i].After(cutoff) {
		i++
	}
	history = history[i:]

	if len(history) >= limit.capacity() {
		l.history[key] = history
		return false
	}

	l.history[key] = append(history, now)
	return true
}

// InWindow returns the current admission count for a participant and
// message type as of time now
func (l *MessageRateLimiter) InWindow(userID string, msgType MessageType, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-rateLimitWindow)
	count := 0
	for _, ts := range l.history[rateLimitKey{userID: userID, msgType: msgType}] {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}
