package ratelimit

import (
    "context"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLimiterBurstThenRefill(t *testing.T) {
    clk := &clock{t: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}
    l := New(2, 0.5).WithClock(clk.now)

    assert.True(t, l.Allow("10.0.0.1"))
    assert.True(t, l.Allow("10.0.0.1"))
    ok, wait := l.Reserve("10.0.0.1")
    assert.False(t, ok)
    assert.Equal(t, 2*time.Second, wait)

    // other keys have their own bucket
    assert.True(t, l.Allow("10.0.0.2"))

    clk.advance(2 * time.Second)
    assert.True(t, l.Allow("10.0.0.1"))
    assert.False(t, l.Allow("10.0.0.1"))
}

func TestLimiterPrune(t *testing.T) {
    clk := &clock{t: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}
    l := New(2, 1).WithClock(clk.now)

    l.Allow("a")
    l.Allow("a")
    l.Allow("b")
    assert.Equal(t, 2, l.Len())

    clk.advance(1 * time.Second)
    assert.Equal(t, 1, l.Prune()) // b is full again, a still owes a token
    clk.advance(1 * time.Second)
    assert.Equal(t, 1, l.Prune())
    assert.Equal(t, 0, l.Len())
}

func TestPruneEveryDropsIdleBuckets(t *testing.T) {
    clk := &clock{t: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}
    l := New(2, 1).WithClock(clk.now)
    l.Allow("10.0.0.1")
    l.Allow("10.0.0.2")
    clk.advance(time.Hour)

    ctx, cancel := context.WithCancel(context.Background())
    pruned := make(chan int, 1)
    done := make(chan struct{})
    go func() {
        l.PruneEvery(ctx, 5*time.Millisecond, func(n int) { pruned <- n })
        close(done)
    }()

    select {
    case n := <-pruned:
        assert.Equal(t, 2, n)
    case <-time.After(2 * time.Second):
        t.Fatal("buckets were not pruned")
    }
    assert.Zero(t, l.Len())

    cancel()
    select {
    case <-done:
    case <-time.After(2 * time.Second):
        t.Fatal("pruning loop did not stop")
    }
}
