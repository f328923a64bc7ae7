// Package ratelimit implements the per-client sliding-window limiter that
// guards the chat endpoint.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultWindow is the rolling interval the per-minute budget applies to.
const DefaultWindow = 60 * time.Second

// Decision describes the outcome of a rate limit check.
type Decision struct {
	Allowed bool
	// RetryAfter is the whole number of seconds the client should wait.
	// Zero when Allowed.
	RetryAfter int
}

// SlidingWindow admits at most limit events per key in any trailing window.
// Admission never evicts keys; Sweep drops the ones that have gone idle.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
}

// NewSlidingWindow constructs a limiter. A non-positive limit is raised to 1
// and a non-positive window falls back to DefaultWindow.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &SlidingWindow{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// Limit returns the admissions allowed per window.
func (l *SlidingWindow) Limit() int { return l.limit }

// Window returns the rolling window size.
func (l *SlidingWindow) Window() time.Duration { return l.window }

// CheckAndRecord prunes the key's window, then either records now and
// admits, or denies with the seconds until the oldest entry ages out.
func (l *SlidingWindow) CheckAndRecord(key string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := prune(l.hits[key], now, l.window)
	// Callers read the clock before taking the lock; keep the window ordered.
	if n := len(kept); n > 0 && now.Before(kept[n-1]) {
		now = kept[n-1]
	}

	if len(kept) >= l.limit {
		l.hits[key] = kept
		return Decision{Allowed: false, RetryAfter: retryAfter(kept[0], now, l.window)}
	}

	l.hits[key] = append(kept, now)
	return Decision{Allowed: true}
}

// Sweep removes keys with no entry inside the window as of now and reports
// how many were removed. Idle keys admit like unseen ones, so sweeping never
// changes a decision.
func (l *SlidingWindow) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, ts := range l.hits {
		kept := prune(ts, now, l.window)
		if len(kept) == 0 {
			delete(l.hits, key)
			removed++
			continue
		}
		l.hits[key] = kept
	}
	return removed
}

// Keys returns the number of tracked keys.
func (l *SlidingWindow) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// prune drops entries with now-t >= window. Entries are non-decreasing so
// the survivors are a suffix; the slice is compacted in place.
func prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= window {
		i++
	}
	if i == 0 {
		return ts
	}
	n := copy(ts, ts[i:])
	return ts[:n]
}

func retryAfter(oldest, now time.Time, window time.Duration) int {
	remaining := window - now.Sub(oldest)
	secs := int(remaining/time.Second) + 1
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ClientKey identifies the caller: the first X-Forwarded-For entry when
// present, else the remote host, else "unknown".
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
