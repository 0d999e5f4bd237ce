package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter() (*Limiter, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(WithClock(c.Now)), c
}

func TestAllowRejectsOverLimitWithinWindow(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		win   time.Duration
	}{
		{"message policy", MessagePolicy.Limit, MessagePolicy.Window},
		{"upload policy", UploadPolicy.Limit, UploadPolicy.Window},
		{"single slot", 1, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, c := newTestLimiter()
			for i := 0; i < tt.limit; i++ {
				require.True(t, l.Allow("k", tt.limit, tt.win), "call %d", i+1)
				c.Advance(time.Millisecond)
			}
			assert.False(t, l.Allow("k", tt.limit, tt.win), "call N+1 must be rejected")

			c.Advance(tt.win)
			assert.True(t, l.Allow("k", tt.limit, tt.win), "window has passed")
		})
	}
}

func TestRejectedCallsAreNotRecorded(t *testing.T) {
	l, c := newTestLimiter()

	require.True(t, l.Allow("k", 1, time.Minute))
	for i := 0; i < 5; i++ {
		assert.False(t, l.Allow("k", 1, time.Minute))
	}
	c.Advance(time.Minute)
	assert.True(t, l.Allow("k", 1, time.Minute))
}

func TestWindowSlides(t *testing.T) {
	l, c := newTestLimiter()

	require.True(t, l.Allow("k", 2, 10*time.Second))
	c.Advance(6 * time.Second)
	require.True(t, l.Allow("k", 2, 10*time.Second))
	assert.False(t, l.Allow("k", 2, 10*time.Second))

	c.Advance(4 * time.Second)
	assert.True(t, l.Allow("k", 2, 10*time.Second), "first event expired")
	assert.False(t, l.Allow("k", 2, 10*time.Second))
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()

	assert.True(t, l.AllowPolicy("alice", "message", Policy{Limit: 1, Window: time.Minute}))
	assert.False(t, l.AllowPolicy("alice", "message", Policy{Limit: 1, Window: time.Minute}))
	assert.True(t, l.AllowPolicy("alice", "upload", Policy{Limit: 1, Window: time.Minute}))
	assert.True(t, l.AllowPolicy("bob", "message", Policy{Limit: 1, Window: time.Minute}))
}

func TestZeroLimitRejects(t *testing.T) {
	l, _ := newTestLimiter()
	assert.False(t, l.Allow("k", 0, time.Minute))
}

func TestSweepRemovesIdleKeys(t *testing.T) {
	l, c := newTestLimiter()

	l.Allow("old", 5, time.Minute)
	c.Advance(10 * time.Minute)
	l.Allow("fresh", 5, time.Minute)

	assert.Equal(t, 1, l.Sweep(5*time.Minute))
	assert.Equal(t, 1, l.Len())
	_, ok := l.keys.Load("old")
	assert.False(t, ok)
}

func TestSweptWindowIsNotReused(t *testing.T) {
	l, c := newTestLimiter()

	l.Allow("k", 1, time.Minute)
	v, ok := l.keys.Load("k")
	require.True(t, ok)
	stale := v.(*window)

	c.Advance(10 * time.Minute)
	require.Equal(t, 1, l.Sweep(5*time.Minute))

	// A caller still holding the swept window must not record into it.
	_, live := stale.record(c.Now(), 1, time.Minute)
	assert.False(t, live)

	assert.True(t, l.Allow("k", 1, time.Minute))
	assert.False(t, l.Allow("k", 1, time.Minute), "the fresh window counts the event")
	assert.Equal(t, 1, l.Len())
}

func TestConcurrentAllowNeverExceedsLimit(t *testing.T) {
	l, _ := newTestLimiter()
	const limit = 30

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.AllowPolicy("alice", "message", MessagePolicy) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), accepted.Load())
}

func BenchmarkAllowManyKeys(b *testing.B) {
	l := New()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			l.Allow(fmt.Sprintf("user-%d", i%64), 1000, time.Minute)
			i++
		}
	})
}
