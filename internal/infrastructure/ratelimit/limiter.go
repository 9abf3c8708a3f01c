package ratelimit

import (
	"sync"
	"time"

	"github.com/wenda-project/wenda/internal/config"
)

// Limiter enforces a per-identity sliding window. The window holds the
// timestamps of accepted requests; a request past the cap is rejected
// with the duration until the oldest timestamp leaves the window.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	max     int
	window  time.Duration
	enabled bool
	now     func() time.Time
}

func New(cfg config.RateLimit) *Limiter {
	max := cfg.MaxRequests
	if max <= 0 {
		max = 30
	}
	window := time.Duration(cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		windows: make(map[string][]time.Time),
		max:     max,
		window:  window,
		enabled: cfg.Enabled,
		now:     time.Now,
	}
}

// Allow records the request when it fits the window. On rejection the
// returned duration is the suggested Retry-After.
func (l *Limiter) Allow(identity string) (bool, time.Duration) {
	if !l.enabled {
		return true, 0
	}
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.windows[identity]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.max {
		l.windows[identity] = kept
		retryAfter := kept[0].Sub(cutoff)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter
	}

	kept = append(kept, now)
	l.windows[identity] = kept
	return true, 0
}

// Prune drops identities with no activity inside the window. Called
// periodically so idle clients do not accumulate.
func (l *Limiter) Prune() {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for identity, stamps := range l.windows {
		live := false
		for _, ts := range stamps {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.windows, identity)
		}
	}
}
