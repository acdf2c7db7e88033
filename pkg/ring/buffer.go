// Package ring implements the jitter-absorbing ring buffer and frame
// reassembly described in spec.md §3 ("Ring buffer slot" / "Ring buffer
// (per stream)") and §4.3 ("Ring Buffer & Reassembly").
//
// Each stream (video, audio) owns one Buffer. A Buffer holds a fixed
// number of slots; incoming packets are routed to slot
// frame_id % len(slots). A slot assembles one frame at a time from
// fragment indices, attempting Reed-Solomon reconstruction once enough
// FEC shards have arrived, and hands the assembled frame to the
// "currently rendering" owner exactly once.
package ring

import (
	"errors"
	"sync"
	"time"

	"github.com/streamcore/streamcore/pkg/alloc"
	"github.com/streamcore/streamcore/pkg/wire"
)

// ErrGenuineDuplicate is returned by Accept, alongside OutcomeDuplicate,
// when a packet's index was already received for the current frame_id.
// The duplicate is dropped and the slot is left unchanged; callers such
// as pkg/udpsock skip it without reporting an error.
var ErrGenuineDuplicate = errors.New("ring: duplicate packet for already-received index")

// Buffer is the per-stream ring of reassembly slots (spec.md §3).
type Buffer struct {
	mu sync.Mutex

	streamType wire.StreamType
	slots      []*slot
	pool       *alloc.Pool

	haveRendered    bool
	lastRenderedID  uint32
	currentlyRendering int64 // frame id of the slot on loan to the renderer, -1 if none

	haveHighest bool
	highestSeen uint32

	lastMissingFrameNack int64 // -1 means "none yet"

	stats Stats
}

// Stats accumulates counters useful for metrics/logging (spec.md §9).
type Stats struct {
	PacketsAccepted   uint64
	PacketsDropped    uint64
	DuplicatesSeen    uint64
	FramesReconstructed uint64
	FramesDelivered   uint64
	SlotResets        uint64
	FullBufferResets  uint64
}

// NewBuffer creates a ring of the given size (spec.md's ring_size,
// typically 8) for one stream.
func NewBuffer(streamType wire.StreamType, size int, pool *alloc.Pool) *Buffer {
	slots := make([]*slot, size)
	for i := range slots {
		slots[i] = newSlot()
	}
	return &Buffer{
		streamType:           streamType,
		slots:                slots,
		pool:                 pool,
		currentlyRendering:   -1,
		lastMissingFrameNack: -1,
	}
}

func (b *Buffer) slotFor(frameID uint32) *slot {
	return b.slots[int(frameID)%len(b.slots)]
}

// StreamType reports which stream this buffer reassembles.
func (b *Buffer) StreamType() wire.StreamType { return b.streamType }

// HighestSeen returns the highest frame_id for which at least one
// fragment has ever arrived, used by the NACK engine to detect entire
// frames that were lost outright (spec.md §4.4's "missing frame" probe).
func (b *Buffer) HighestSeen() (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.highestSeen, b.haveHighest
}

// LastRenderedID returns the most recently committed frame_id, used by
// the renderer driver to decide whether the immediate next id is still
// worth waiting on before skipping ahead (spec.md §4.8's "selection"
// step).
func (b *Buffer) LastRenderedID() (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRenderedID, b.haveRendered
}

// acceptance outcomes, exposed for tests and logging.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeDuplicate
	OutcomeStaleFrame
	OutcomeRehomed
	OutcomeAttached
	OutcomeRejectedRendering
)

// Accept routes one packet into its slot, per the acceptance policy of
// spec.md §4.3:
//
//  1. If the slot is empty, it is homed to pkt.FrameID directly.
//  2. If the slot holds the renderer's currently-rendering frame and a
//     newer frame_id arrives for the same slot, the new frame is
//     dropped silently: that exact frame is on loan to the renderer
//     right now and the newcomer must wait for a free slot.
//  3. If the slot holds an older frame_id than pkt.FrameID that was
//     never handed to the renderer (its id is still ahead of the
//     render watermark), the whole ring is logically full: every
//     slot is either rendering or waiting on a frame the renderer
//     hasn't reached yet, so the entire ring is reset and re-homed to
//     pkt.FrameID to resynchronize from this frame.
//  4. If the slot holds an older frame_id than pkt.FrameID that was
//     already rendered (at or behind the watermark), only that one
//     slot is stale; it is evicted and re-homed.
//  5. If the slot already holds pkt.FrameID, the fragment is attached.
//  6. If the slot holds a newer frame_id than pkt.FrameID, the packet
//     is stale and dropped.
func (b *Buffer) Accept(pkt *wire.Packet) (Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.slotFor(pkt.FrameID)

	switch {
	case !s.occupied:
		b.home(s, pkt)
		return b.rehomedOutcome(s, pkt)

	case s.frameID == pkt.FrameID:
		outcome, err := b.attach(s, pkt)
		if outcome == OutcomeAccepted {
			outcome = OutcomeAttached
		}
		return outcome, err

	case olderThan(s.frameID, pkt.FrameID):
		// A newer frame wants this slot.
		if b.currentlyRendering == int64(s.frameID) {
			// Slot is on loan; the ring is momentarily full for this
			// index. Drop the newcomer rather than corrupt the frame
			// in flight to the renderer.
			b.stats.PacketsDropped++
			return OutcomeRejectedRendering, nil
		}
		if !b.haveRendered || olderThan(b.lastRenderedID, s.frameID) {
			// The resident frame is still ahead of the render
			// watermark: it arrived but was never rendered, so every
			// other slot is in the same state or waiting behind it.
			// The ring is full; resynchronize from this frame.
			b.resetLocked()
			b.home(s, pkt)
			return b.rehomedOutcome(s, pkt)
		}
		// The resident frame is at or behind the watermark: already
		// rendered and simply stale. Only this slot needs evicting.
		b.evictStale(s)
		b.home(s, pkt)
		return b.rehomedOutcome(s, pkt)

	default:
		// s.frameID is newer than pkt.FrameID: stale packet, drop.
		b.stats.PacketsDropped++
		return OutcomeStaleFrame, nil
	}
}

func (b *Buffer) rehomedOutcome(s *slot, pkt *wire.Packet) (Outcome, error) {
	outcome, err := b.attach(s, pkt)
	if outcome == OutcomeAccepted {
		outcome = OutcomeRehomed
	}
	return outcome, err
}

// olderThan compares frame ids with wraparound, matching spec.md's
// 32-bit monotonically increasing frame_id space.
func olderThan(a, b uint32) bool {
	return int32(a-b) < 0
}

func (b *Buffer) home(s *slot, pkt *wire.Packet) {
	s.init(b.pool, pkt.FrameID, pkt.NumOriginal(), pkt.NumFECIndices, pkt.IsStreamStart)
	if b.haveHighest && olderThan(b.highestSeen, pkt.FrameID) || !b.haveHighest {
		b.highestSeen = pkt.FrameID
		b.haveHighest = true
	}
}

func (b *Buffer) evictStale(s *slot) {
	s.reset(b.pool)
	b.stats.SlotResets++
}

func (b *Buffer) attach(s *slot, pkt *wire.Packet) (Outcome, error) {
	if int(pkt.Index) >= int(s.numIndices) {
		b.stats.PacketsDropped++
		return OutcomeStaleFrame, errFragmentOutOfRange
	}
	if s.received[pkt.Index] {
		b.stats.DuplicatesSeen++
		return OutcomeDuplicate, ErrGenuineDuplicate
	}
	s.received[pkt.Index] = true
	s.lastNonNackPacketAt = time.Now()
	if int(pkt.Index) > s.lastReceivedIndex {
		s.lastReceivedIndex = int(pkt.Index)
	}

	if int(pkt.Index) < int(s.numOriginal) {
		off := int(pkt.Index) * wire.MaxPayloadSize
		n := copy(s.buf[off:off+wire.MaxPayloadSize], pkt.Payload)
		if n < wire.MaxPayloadSize {
			for i := off + n; i < off+wire.MaxPayloadSize; i++ {
				s.buf[i] = 0
			}
		}
		s.originalReceived++
	} else {
		if s.fecShards == nil {
			s.fecShards = make(map[int][]byte)
		}
		shard := make([]byte, wire.MaxPayloadSize)
		copy(shard, pkt.Payload)
		s.fecShards[int(pkt.Index)] = shard
		s.fecReceived++
	}
	b.stats.PacketsAccepted++

	b.tryReconstruct(s, pkt)
	return OutcomeAccepted, nil
}

var errFragmentOutOfRange = errors.New("ring: fragment index out of range for frame")

// tryReconstruct attempts FEC reconstruction once there are at least
// numOriginal shards present across original+FEC data (spec.md §4.1).
func (b *Buffer) tryReconstruct(s *slot, _ *wire.Packet) {
	if s.reconstructed || s.originalReceived == int(s.numOriginal) {
		return
	}
	if s.fecCodec == nil {
		return
	}
	total := s.originalReceived + s.fecReceived
	if total < int(s.numOriginal) {
		return
	}

	numIndices := int(s.numIndices)
	shards := make([][]byte, numIndices)
	present := make([]bool, numIndices)
	for i := 0; i < int(s.numOriginal); i++ {
		if s.received[i] {
			off := i * wire.MaxPayloadSize
			shards[i] = s.buf[off : off+wire.MaxPayloadSize]
			present[i] = true
		}
	}
	for i := int(s.numOriginal); i < numIndices; i++ {
		if fs, ok := s.fecShard(i); ok {
			shards[i] = fs
			present[i] = true
		}
	}

	if err := s.fecCodec.Reconstruct(shards, present); err != nil {
		return
	}
	s.reconstructed = true
	s.reconstructedLen = int(s.numOriginal) * wire.MaxPayloadSize
	for i := 0; i < int(s.numOriginal); i++ {
		if !s.received[i] {
			off := i * wire.MaxPayloadSize
			copy(s.buf[off:off+wire.MaxPayloadSize], shards[i])
			s.received[i] = true
			s.originalReceived++
		}
	}
	b.stats.FramesReconstructed++
}

// fecShard looks up a previously attached FEC shard payload. FEC shards
// live in a side table since this Buffer's contiguous buf only spans
// original indices (see attach).
func (s *slot) fecShard(index int) ([]byte, bool) {
	if s.fecShards == nil {
		return nil, false
	}
	shard, ok := s.fecShards[index]
	return shard, ok
}

// Ready reports whether the slot for frameID currently holds a
// completed frame. Used by callers polling before Render.
func (b *Buffer) Ready(frameID uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.slotFor(frameID)
	return s.occupied && s.frameID == frameID && s.isReady()
}

// NextReady scans forward from the last rendered frame id (or from the
// lowest occupied slot, on first call) and returns the next frame ready
// for rendering in strictly increasing frame_id order, per spec.md's
// "monotonic rendering" invariant.
func (b *Buffer) NextReady() (frameID uint32, payload []byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var best *slot
	for _, s := range b.slots {
		if !s.occupied || !s.isReady() {
			continue
		}
		if b.haveRendered && !olderThan(b.lastRenderedID, s.frameID) {
			continue // already rendered or older than the watermark
		}
		if best == nil || olderThan(s.frameID, best.frameID) {
			best = s
		}
	}
	if best == nil {
		return 0, nil, false
	}
	return best.frameID, best.payload(), true
}

// SetRendering transfers ownership of frameID's slot to the renderer.
// While a frame is "currently rendering" its slot will not be evicted
// by a newer arrival (see Accept's OutcomeRejectedRendering case).
// CommitRendered must be called once the renderer is done with the
// returned payload.
func (b *Buffer) SetRendering(frameID uint32) (payload []byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.slotFor(frameID)
	if !s.occupied || s.frameID != frameID || !s.isReady() {
		return nil, false
	}
	b.currentlyRendering = int64(frameID)
	return s.payload(), true
}

// CommitRendered releases the rendering loan on frameID and advances
// the high-water mark used by NextReady. Once committed, the slot
// remains in place (so late duplicate fragments are still recognized
// and logged) until a newer frame_id re-homes it.
func (b *Buffer) CommitRendered(frameID uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.currentlyRendering == int64(frameID) {
		b.currentlyRendering = -1
	}
	if !b.haveRendered || olderThan(b.lastRenderedID, frameID) {
		b.lastRenderedID = frameID
		b.haveRendered = true
	}
	b.stats.FramesDelivered++
}

// Reset clears every slot, used on StreamReset (spec.md §4.3's
// "ring buffer overrun" recovery: rather than evict one slot at a time
// under sustained overrun, the caller may choose to reset the whole
// ring and resynchronize from the next keyframe).
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

// resetLocked is Reset's body, callable from within a critical section
// Accept already holds (Accept's full-reset branch) as well as from
// Reset itself.
func (b *Buffer) resetLocked() {
	for _, s := range b.slots {
		s.reset(b.pool)
	}
	b.haveRendered = false
	b.lastRenderedID = 0
	b.currentlyRendering = -1
	b.haveHighest = false
	b.highestSeen = 0
	b.lastMissingFrameNack = -1
	b.stats.FullBufferResets++
}

// StatsSnapshot returns a copy of the buffer's counters.
func (b *Buffer) StatsSnapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// MissingIndices reports indices of the slot for frameID that have not
// yet arrived, for use by the NACK engine (spec.md §4.4). Only
// original-data indices are reported; FEC shard absence never blocks
// rendering on its own.
func (b *Buffer) MissingIndices(frameID uint32) []uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.slotFor(frameID)
	if !s.occupied || s.frameID != frameID {
		return nil
	}
	var missing []uint16
	for i := 0; i < int(s.numOriginal); i++ {
		if !s.received[i] {
			missing = append(missing, uint16(i))
		}
	}
	return missing
}
