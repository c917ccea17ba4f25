package ratelimit

import (
    "context"
    "math"
    "sync"
    "time"
)

type bucket struct {
    tokens     float64
    capacity   float64
    refillRate float64 // tokens per second
    last       time.Time
}

// Limiter is a per-key token bucket. Each key starts full.
type Limiter struct {
    mu       sync.Mutex
    m        map[string]*bucket
    capacity float64
    refill   float64
    now      func() time.Time
}

// New builds a limiter allowing bursts of capacity and refillPerSec sustained requests per key.
func New(capacity, refillPerSec float64) *Limiter {
    return &Limiter{m: make(map[string]*bucket), capacity: capacity, refill: refillPerSec, now: time.Now}
}

func (l *Limiter) WithClock(now func() time.Time) *Limiter {
    l.now = now
    return l
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
    ok, _ := l.Reserve(key)
    return ok
}

// Reserve consumes a token when one is available. Otherwise it reports how long
// until the next token for key.
func (l *Limiter) Reserve(key string) (bool, time.Duration) {
    now := l.now()
    l.mu.Lock()
    defer l.mu.Unlock()

    b, ok := l.m[key]
    if !ok {
        b = &bucket{tokens: l.capacity, capacity: l.capacity, refillRate: l.refill, last: now}
        l.m[key] = b
    }
    // refill
    elapsed := now.Sub(b.last).Seconds()
    if elapsed > 0 {
        b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
        b.last = now
    }
    if b.tokens >= 1 {
        b.tokens -= 1
        return true, 0
    }
    if b.refillRate <= 0 {
        return false, time.Hour
    }
    wait := (1 - b.tokens) / b.refillRate
    return false, time.Duration(wait * float64(time.Second))
}

// Prune drops buckets that have been idle long enough to be full again.
func (l *Limiter) Prune() int {
    now := l.now()
    l.mu.Lock()
    defer l.mu.Unlock()
    n := 0
    for k, b := range l.m {
        if b.refillRate <= 0 {
            continue
        }
        full := time.Duration((b.capacity - b.tokens) / b.refillRate * float64(time.Second))
        if now.Sub(b.last) >= full {
            delete(l.m, k)
            n++
        }
    }
    return n
}

// PruneEvery prunes idle buckets on each tick until ctx is done.
func (l *Limiter) PruneEvery(ctx context.Context, interval time.Duration, onPrune func(n int)) {
    if interval <= 0 {
        interval = 5 * time.Minute
    }
    ticker := time.NewTicker(interval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
            if n := l.Prune(); n > 0 && onPrune != nil {
                onPrune(n)
            }
        }
    }
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
    l.mu.Lock()
    defer l.mu.Unlock()
    return len(l.m)
}
