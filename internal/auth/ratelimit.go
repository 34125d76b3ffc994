package auth

import (
	"context"
	"sync"
	"time"
)

// Login limiter defaults
const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 2 * time.Minute
	DefaultBlockTime   = 5 * time.Minute
)

// LoginRateLimiter limits login attempts per IP
type LoginRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*ipAttempts
	now      func() time.Time

	maxAttempts int           // attempts allowed inside one window
	window      time.Duration // time window for counting attempts
	blockTime   time.Duration // how long to block after max attempts
}

type ipAttempts struct {
	count     int
	firstTime time.Time
	blockEnd  time.Time // zero while not blocked
}

// NewLoginRateLimiter creates a limiter allowing maxAttempts per window per IP.
// Zero values select the defaults.
func NewLoginRateLimiter(maxAttempts int, window, blockTime time.Duration) *LoginRateLimiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if blockTime <= 0 {
		blockTime = DefaultBlockTime
	}
	return &LoginRateLimiter{
		attempts:    make(map[string]*ipAttempts),
		now:         time.Now,
		maxAttempts: maxAttempts,
		window:      window,
		blockTime:   blockTime,
	}
}

// Allow counts an attempt from ip and reports whether it may proceed,
// plus the seconds left until unblock when it may not
func (rl *LoginRateLimiter) Allow(ip string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	att, exists := rl.attempts[ip]
	if !exists {
		rl.attempts[ip] = &ipAttempts{count: 1, firstTime: now}
		return true, 0
	}

	if !att.blockEnd.IsZero() {
		if now.Before(att.blockEnd) {
			return false, int(att.blockEnd.Sub(now).Seconds())
		}
		*att = ipAttempts{count: 1, firstTime: now}
		return true, 0
	}

	if now.Sub(att.firstTime) > rl.window {
		*att = ipAttempts{count: 1, firstTime: now}
		return true, 0
	}

	att.count++
	if att.count > rl.maxAttempts {
		att.blockEnd = now.Add(rl.blockTime)
		return false, int(rl.blockTime.Seconds())
	}
	return true, 0
}

// Reset clears the rate limit for an IP after a successful login
func (rl *LoginRateLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, ip)
}

// Run removes stale entries every interval until ctx is done
func (rl *LoginRateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *LoginRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, att := range rl.attempts {
		if att.blockEnd.IsZero() && now.Sub(att.firstTime) > rl.window {
			delete(rl.attempts, ip)
		} else if !att.blockEnd.IsZero() && !now.Before(att.blockEnd) {
			delete(rl.attempts, ip)
		}
	}
}
