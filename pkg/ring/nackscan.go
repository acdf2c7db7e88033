package ring

import "time"

// MaxUnorderedPackets is the out-of-order tolerance before an unreceived
// index in normal mode is considered lost rather than merely reordered
// (spec.md §4.4).
const MaxUnorderedPackets = 10

// MissingIndex is one candidate the NACK engine should request a
// retransmission for.
type MissingIndex struct {
	FrameID uint32
	Index   uint16
}

// ScanMissing implements the per-frame NACK selection of spec.md §4.4:
// a missing-frame probe for ids that never produced a slot, followed by
// a normal- or recovery-mode per-index scan of every in-progress slot.
// Selected indices have their times_nacked bookkeeping and the slot's
// nack cursor advanced as if they will be sent. A returned candidate
// that the caller does not send still counts toward MaxPacketNacks and
// is not offered again until a later recovery-mode pass over its slot.
func (b *Buffer) ScanMissing(now time.Time, latencySec float64) []MissingIndex {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []MissingIndex
	out = b.scanMissingFrames(now, out)

	for _, s := range b.slots {
		if !s.occupied || s.isReady() {
			continue
		}
		out = s.scanNackCandidates(now, latencySec, out)
	}
	return out
}

// scanMissingFrames emits a speculative probe (indices 0..20) for any
// frame_id the ring has never seen a single fragment of, bounded by the
// highest id ever observed.
func (b *Buffer) scanMissingFrames(now time.Time, out []MissingIndex) []MissingIndex {
	if !b.haveHighest {
		return out
	}
	// Only frames within the ring's own footprint can still usefully be
	// probed for — anything further behind the highest-seen id has
	// already aged out of every slot, so bound the catch-up scan to
	// ring size rather than walking the whole id space from scratch.
	start := b.lastMissingFrameNack + 1
	oldestUseful := int64(b.highestSeen) - int64(len(b.slots)) + 1
	if start < oldestUseful {
		start = oldestUseful
	}
	if start < 0 {
		start = 0
	}
	for id := start; olderThanOrEq(id, int64(b.highestSeen)); id++ {
		fid := uint32(id)
		s := b.slotFor(fid)
		if s.occupied && s.frameID == fid {
			continue // a slot exists for this id; per-index scan covers it
		}
		for i := uint16(0); i <= 20; i++ {
			out = append(out, MissingIndex{FrameID: fid, Index: i})
		}
		b.lastMissingFrameNack = id
	}
	return out
}

func olderThanOrEq(id, highest int64) bool {
	return id <= highest
}

// scanNackCandidates advances this slot's recovery/normal-mode state
// machine and appends indices it selects for (re)NACKing.
func (s *slot) scanNackCandidates(now time.Time, latencySec float64, out []MissingIndex) []MissingIndex {
	if !s.recoveryMode {
		if now.Sub(s.lastNonNackPacketAt) > time.Duration(0.2*latencySec*float64(time.Second)) {
			s.recoveryMode = true
		}
	}

	if s.recoveryMode {
		if !s.nextRecoveryAt.IsZero() && now.Before(s.nextRecoveryAt) {
			return out
		}
		reachedEnd := false
		for i := s.lastNackedIndex + 1; i < int(s.numOriginal); i++ {
			if !s.received[i] && s.timesNacked[i] < MaxPacketNacks {
				out = append(out, MissingIndex{FrameID: s.frameID, Index: uint16(i)})
				s.timesNacked[i]++
				s.lastNackedAt = now
			}
			s.lastNackedIndex = i
			if i == int(s.numOriginal)-1 {
				reachedEnd = true
			}
		}
		if reachedEnd {
			s.numTimesNacked++
			s.lastNackedIndex = -1
			backoff := time.Duration(1.2 * latencySec * float64(s.numTimesNacked) * float64(time.Second))
			s.nextRecoveryAt = now.Add(backoff)
		}
		return out
	}

	// Normal mode: only consider indices comfortably behind the
	// highest-numbered fragment received so far, treating a short
	// reorder window as benign.
	windowHigh := s.lastReceivedIndex - MaxUnorderedPackets
	if windowHigh < 0 {
		return out
	}
	for i := s.lastNackedIndex + 1; i <= windowHigh; i++ {
		if i >= int(s.numIndices) {
			break
		}
		if !s.received[i] && s.timesNacked[i] < MaxPacketNacks {
			out = append(out, MissingIndex{FrameID: s.frameID, Index: uint16(i)})
			s.timesNacked[i]++
			s.lastNackedAt = now
		}
		s.lastNackedIndex = i
	}
	return out
}
