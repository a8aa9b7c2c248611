package ofconn

import (
	"sync"
	"time"
)

// ppsLimiter is a fixed-window packets-per-second counter: Allow
// returns false once more than maxPPS messages have been seen inside
// the current one-second window. No pack example imports a token-bucket
// library for inbound message shaping (golang.org/x/time/rate appears
// only as a transitive dependency, never called directly), so this
// stays on the standard library, the same way server.go's own
// net/crypto-tls transport does.
type ppsLimiter struct {
	maxPPS int

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// NewPPSLimiter builds a RateLimiter admitting at most maxPPS messages
// per fixed one-second window. The window does not slide, so a burst
// that straddles a window boundary can pass up to 2*maxPPS messages
// within one second. Intended as the Config.NewLimiter
// factory for the of-server.limiter/max_pps settings.
func NewPPSLimiter(maxPPS int) RateLimiter {
	return &ppsLimiter{maxPPS: maxPPS, windowStart: time.Now()}
}

func (l *ppsLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.windowStart) >= time.Second {
		l.windowStart = now
		l.count = 0
	}
	if l.count >= l.maxPPS {
		return false
	}
	l.count++
	return true
}
