// Package nack implements the bandwidth-capped NACK engine described in
// spec.md §4.4: it periodically scans one or more ring buffers for
// missing fragments, groups contiguous runs into bitarray NACKs where
// that is cheaper, and paces emission under a dual token-bucket cap so
// retransmission requests never overwhelm the return path.
package nack

import (
	"sync"
	"time"

	"github.com/streamcore/streamcore/pkg/ring"
	"github.com/streamcore/streamcore/pkg/wire"
)

// Bandwidth caps from spec.md §4.4.
const (
	MaxNackAvgBps   = 2_200_000 / 8 // MAX_NACK_AVG: 2.2 Mbps over 100ms, in bytes/sec
	MaxNackBurstBps = 4_800_000 / 8 // MAX_NACK_BURST: 4.8 Mbps over 5ms, in bytes/sec

	avgWindow   = 100 * time.Millisecond
	burstWindow = 5 * time.Millisecond

	// minContiguousForBitarray is the original implementation's
	// threshold for switching a run of missing indices from individual
	// NackSingle messages to one NackBitarray (see SPEC_FULL.md's
	// domain-specific supplemented features).
	minContiguousForBitarray = 3
)

// Emitter sends one encoded NACK message on the wire.
type Emitter func(streamType wire.StreamType, msg wire.Message) error

// Source pairs a ring buffer with the stream type it reassembles so the
// engine can address NACKs correctly.
type Source struct {
	Buffer *ring.Buffer
}

// Engine paces and emits NACKs for a set of ring buffers (typically one
// video and one audio buffer per peer connection).
type Engine struct {
	mu      sync.Mutex
	sources []Source
	emit    Emitter

	avgBucket   tokenBucket
	burstBucket tokenBucket
}

// tokenBucket tracks a byte budget that refills continuously at rate
// bytes/sec up to capacity, consistent with the original's sliding
// window caps expressed as a rate over a fixed interval.
type tokenBucket struct {
	capacity float64
	rate     float64 // bytes per second
	tokens   float64
	last     time.Time
}

func newTokenBucket(capacity, rate float64, now time.Time) tokenBucket {
	return tokenBucket{capacity: capacity, rate: rate, tokens: capacity, last: now}
}

func (t *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(t.last).Seconds()
	if elapsed <= 0 {
		return
	}
	t.tokens += elapsed * t.rate
	if t.tokens > t.capacity {
		t.tokens = t.capacity
	}
	t.last = now
}

func (t *tokenBucket) take(now time.Time, n float64) bool {
	t.refill(now)
	if t.tokens < n {
		return false
	}
	t.tokens -= n
	return true
}

// NewEngine builds a NACK engine over the given ring buffers.
func NewEngine(emit Emitter, sources ...Source) *Engine {
	now := time.Now()
	return &Engine{
		sources:     sources,
		emit:        emit,
		avgBucket:   newTokenBucket(MaxNackAvgBps*avgWindow.Seconds(), MaxNackAvgBps, now),
		burstBucket: newTokenBucket(MaxNackBurstBps*burstWindow.Seconds(), MaxNackBurstBps, now),
	}
}

// Tick runs one NACK pass across all sources. latency is the peer's
// current measured round-trip latency in seconds, used to size the
// recovery-mode back-off and the missing-packet detection window
// (spec.md §4.4). It is a no-op once either token bucket runs dry mid
// pass, consistent with spec.md's "no-op if budget exhausted".
func (e *Engine) Tick(latency time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	latencySec := latency.Seconds()

	for _, src := range e.sources {
		candidates := src.Buffer.ScanMissing(now, latencySec)
		for _, run := range groupContiguous(candidates) {
			msg, cost := e.encode(src.Buffer.StreamType(), run)
			if !e.burstBucket.take(now, cost) || !e.avgBucket.take(now, cost) {
				return nil
			}
			if err := e.emit(src.Buffer.StreamType(), msg); err != nil {
				return err
			}
		}
	}
	return nil
}

// run is one contiguous span of missing indices within a single frame.
type run struct {
	frameID uint32
	start   uint16
	count   uint16
}

// groupContiguous collapses a flat candidate list (already ordered by
// frame then index from ScanMissing) into contiguous runs per frame.
func groupContiguous(candidates []ring.MissingIndex) []run {
	var runs []run
	for _, c := range candidates {
		if n := len(runs); n > 0 {
			last := &runs[n-1]
			if last.frameID == c.FrameID && last.start+last.count == c.Index {
				last.count++
				continue
			}
		}
		runs = append(runs, run{frameID: c.FrameID, start: c.Index, count: 1})
	}
	return runs
}

// encode picks NackSingle or NackBitarray per the original's ≥3
// contiguous-miss threshold and returns the message plus its
// approximate wire cost in bytes, used for token-bucket accounting.
func (e *Engine) encode(stream wire.StreamType, r run) (wire.Message, float64) {
	if r.count < minContiguousForBitarray {
		msg := wire.Message{Kind: wire.MsgNackSingle, Body: wire.NackSingle{
			Stream:  stream,
			FrameID: r.frameID,
			Index:   r.start,
		}}
		return msg, float64(estimateCost(msg))
	}
	bits := make([]byte, (r.count+7)/8)
	for i := uint16(0); i < r.count; i++ {
		bits[i/8] |= 1 << (i % 8)
	}
	msg := wire.Message{Kind: wire.MsgNackBitarray, Body: wire.NackBitarray{
		Stream:     stream,
		FrameID:    r.frameID,
		StartIndex: r.start,
		Bits:       bits,
	}}
	return msg, float64(estimateCost(msg))
}

// estimateCost encodes msg to get its true wire size for budget
// accounting rather than guessing a fixed control-message size.
func estimateCost(msg wire.Message) int {
	b, err := wire.EncodeMessage(msg)
	if err != nil {
		return 16 // conservative fallback; should not happen for well-formed NACKs
	}
	return len(b)
}
