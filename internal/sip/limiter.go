package sip

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sourceEntry is the token bucket of one source IP.
type sourceEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SourceLimiter is a set of token buckets keyed by source IP. It throttles
// INVITE floods and, with a slow refill, counts failed authentications.
type SourceLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*sourceEntry
}

// NewSourceLimiter allows burst events per source, refilled at limit per
// second.
func NewSourceLimiter(limit rate.Limit, burst int) *SourceLimiter {
	if burst < 1 {
		burst = 1
	}
	return &SourceLimiter{
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*sourceEntry),
	}
}

func (l *SourceLimiter) entry(source string) *rate.Limiter {
	ip := sourceIP(source)
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ip]
	if !ok {
		e = &sourceEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Allow takes one token for source and reports whether one was available.
func (l *SourceLimiter) Allow(source string) bool {
	return l.entry(source).Allow()
}

// Exhausted reports whether source has no tokens left, without taking one.
func (l *SourceLimiter) Exhausted(source string) bool {
	l.mu.Lock()
	e, ok := l.entries[sourceIP(source)]
	l.mu.Unlock()
	if !ok {
		return false
	}
	return e.limiter.Tokens() < 1
}

// Reset forgets source.
func (l *SourceLimiter) Reset(source string) {
	l.mu.Lock()
	delete(l.entries, sourceIP(source))
	l.mu.Unlock()
}

// Cleanup removes sources idle for longer than maxAge and returns how many
// were removed.
func (l *SourceLimiter) Cleanup(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for ip, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked sources.
func (l *SourceLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// sourceIP strips the port from a "host:port" source address.
func sourceIP(source string) string {
	host, _, err := net.SplitHostPort(source)
	if err != nil {
		return source
	}
	return host
}
