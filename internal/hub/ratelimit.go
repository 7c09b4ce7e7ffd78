package hub

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-session event budget over a fixed window.
type RateLimiter struct {
	window time.Duration
	max    int

	mu      sync.Mutex
	clients map[string]*clientWindow
}

type clientWindow struct {
	count       int
	windowStart time.Time
}

func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		window:  window,
		max:     max,
		clients: make(map[string]*clientWindow),
	}
}

// Allow reports whether the session may process another event now.
func (rl *RateLimiter) Allow(sessionID string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, exists := rl.clients[sessionID]
	if !exists {
		rl.clients[sessionID] = &clientWindow{count: 1, windowStart: now}
		return true
	}

	if now.Sub(w.windowStart) >= rl.window {
		w.count = 1
		w.windowStart = now
		return true
	}

	if w.count >= rl.max {
		return false
	}
	w.count++
	return true
}

// Cleanup removes windows idle for several multiples of the window so
// departed sessions do not accumulate. Run by the presence monitor.
func (rl *RateLimiter) Cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for sessionID, w := range rl.clients {
		if now.Sub(w.windowStart) > 5*rl.window {
			delete(rl.clients, sessionID)
		}
	}
}
