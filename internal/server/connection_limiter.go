package server

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleCutoff = 10 * time.Minute

// LimitReason describes why a connection attempt was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// ConnectionLimits guards the WebSocket endpoint with three checks: a
// global concurrent-connection cap per instance, a concurrent cap per
// source IP, and a token-bucket rate limit on new connections per IP.
type ConnectionLimits struct {
	globalMax int64
	current   atomic.Int64

	mu        sync.Mutex
	perIP     map[string]*ipEntry
	maxPerIP  int
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

// ipEntry tracks one source IP: its concurrent connection count and its
// new-connection token bucket.
type ipEntry struct {
	count    int
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewConnectionLimits creates a combined limiter. ratePerSecond is the
// sustained new-connection rate per IP, burst the bucket size.
func NewConnectionLimits(globalMax int64, maxPerIP int, ratePerSecond float64, burst int) *ConnectionLimits {
	return &ConnectionLimits{
		globalMax: globalMax,
		perIP:     make(map[string]*ipEntry),
		maxPerIP:  maxPerIP,
		rate:      rate.Limit(ratePerSecond),
		burst:     burst,
		cleanupAt: time.Now().Add(limiterIdleCutoff),
	}
}

// Acquire attempts to claim a connection slot for the given IP. Returns
// true and an empty reason on success, or false and the limit that
// rejected the attempt. Every successful Acquire must be paired with a
// Release for the same IP.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Now().After(l.cleanupAt) {
		l.cleanup()
		l.cleanupAt = time.Now().Add(limiterIdleCutoff)
	}

	entry, ok := l.perIP[ip]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.perIP[ip] = entry
	}
	entry.lastSeen = time.Now()

	if !entry.limiter.Allow() {
		return false, LimitReasonRate
	}
	if l.current.Load() >= l.globalMax {
		return false, LimitReasonGlobal
	}
	if entry.count >= l.maxPerIP {
		return false, LimitReasonPerIP
	}

	entry.count++
	l.current.Add(1)
	return true, ""
}

// Release frees a previously acquired slot for the given IP.
func (l *ConnectionLimits) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.perIP[ip]
	if !ok || entry.count == 0 {
		return
	}
	entry.count--
	l.current.Add(-1)
}

// Current returns the number of acquired connection slots.
func (l *ConnectionLimits) Current() int64 {
	return l.current.Load()
}

// UniqueIPs returns the number of IPs the limiter is tracking.
func (l *ConnectionLimits) UniqueIPs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perIP)
}

// cleanup drops entries with no live connections that haven't been seen
// recently. Must be called with mu held.
func (l *ConnectionLimits) cleanup() {
	cutoff := time.Now().Add(-limiterIdleCutoff)
	for ip, entry := range l.perIP {
		if entry.count == 0 && entry.lastSeen.Before(cutoff) {
			delete(l.perIP, ip)
		}
	}
}
