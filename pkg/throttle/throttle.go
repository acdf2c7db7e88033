// Package throttle implements the dual-rate token-bucket pacer used to
// gate UDP egress against the negotiated NetworkSettings (spec.md §5.1
// "Throttler (pacing)"). A small window burst bucket and a longer
// window average bucket must both hold enough tokens before a send is
// allowed, matching how the reference protocol paces frame emission to
// avoid bursting past the peer's receive window.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BurstWindow and AvgWindow are the nominal windows spec.md §5.1 sizes
// the two buckets over.
const (
	BurstWindow = 5 * time.Millisecond
	AvgWindow   = 100 * time.Millisecond
)

// Limits describes the pacing parameters currently in force, derived
// from wire.NetworkSettings by the caller.
type Limits struct {
	BitrateBps      int64
	BurstBitrateBps int64
}

// Throttler is a dual-bucket pacer: wait_bytes(n) blocks until both the
// burst and average buckets hold n tokens. The average bucket is
// implemented on golang.org/x/time/rate, which already provides the
// wait-until-available semantics spec.md asks for; the burst bucket is
// a small hand-rolled bucket since x/time/rate models one window, not
// two independent ones.
type Throttler struct {
	mu sync.Mutex

	avg   *rate.Limiter
	burst bucket
}

// bucket is a manually refilled token bucket sized for a window shorter
// than golang.org/x/time/rate comfortably schedules reservations for.
type bucket struct {
	capacity float64
	rate     float64 // bytes/sec
	tokens   float64
	last     time.Time
}

func newBucket(bitrateBps int64, window time.Duration, now time.Time) bucket {
	r := float64(bitrateBps) / 8
	return bucket{
		capacity: r * window.Seconds(),
		rate:     r,
		tokens:   r * window.Seconds(),
		last:     now,
	}
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

// New builds a Throttler for the given limits.
func New(limits Limits) *Throttler {
	now := time.Now()
	avgBytesPerSec := float64(limits.BitrateBps) / 8
	return &Throttler{
		avg:   rate.NewLimiter(rate.Limit(avgBytesPerSec), int(avgBytesPerSec*AvgWindow.Seconds())+1),
		burst: newBucket(limits.BurstBitrateBps, BurstWindow, now),
	}
}

// UpdateLimits reconfigures both buckets in place without discarding
// tokens already accumulated, so an in-flight frame's pacing does not
// restart from zero on a congestion-controller update (spec.md §5.1:
// "Updating settings must not lose in-flight tokens").
func (t *Throttler) UpdateLimits(limits Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.burst.refill(now)
	avgBytesPerSec := float64(limits.BitrateBps) / 8
	t.avg.SetLimitAt(now, rate.Limit(avgBytesPerSec))
	t.avg.SetBurstAt(now, int(avgBytesPerSec*AvgWindow.Seconds())+1)

	burstBytesPerSec := float64(limits.BurstBitrateBps) / 8
	newCapacity := burstBytesPerSec * BurstWindow.Seconds()
	if t.burst.tokens > newCapacity {
		t.burst.tokens = newCapacity
	}
	t.burst.capacity = newCapacity
	t.burst.rate = burstBytesPerSec
}

// WaitBytes blocks until both the burst and average buckets can supply
// n bytes, then deducts n from each, or returns ctx.Err() if ctx is
// cancelled first.
func (t *Throttler) WaitBytes(ctx context.Context, n int) error {
	if err := t.waitBurst(ctx, n); err != nil {
		return err
	}
	return t.avg.WaitN(ctx, n)
}

func (t *Throttler) waitBurst(ctx context.Context, n int) error {
	need := float64(n)
	for {
		t.mu.Lock()
		now := time.Now()
		t.burst.refill(now)
		if t.burst.tokens >= need {
			t.burst.tokens -= need
			t.mu.Unlock()
			return nil
		}
		deficit := need - t.burst.tokens
		var wait time.Duration
		if t.burst.rate > 0 {
			wait = time.Duration(deficit / t.burst.rate * float64(time.Second))
		} else {
			wait = BurstWindow
		}
		t.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
