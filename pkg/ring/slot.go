package ring

import (
	"time"

	"github.com/streamcore/streamcore/pkg/alloc"
	"github.com/streamcore/streamcore/pkg/fec"
	"github.com/streamcore/streamcore/pkg/wire"
)

// MaxPacketNacks bounds how many times a single index may be NACKed
// (spec.md §4.4, §8).
const MaxPacketNacks = 2

// slot holds at most one in-progress or ready frame, per spec.md §3.
type slot struct {
	occupied bool
	frameID  uint32

	numOriginal uint16
	numFEC      uint16
	numIndices  uint16

	received    []bool // received_indices[0..N_total)
	timesNacked []int  // times_nacked[0..N_total)

	originalReceived int
	fecReceived      int

	buf []byte // contiguous frame buffer, index*MaxPayloadSize offsets

	fecShards map[int][]byte // FEC-index -> shard payload, populated lazily

	fecCodec        *fec.FrameCodec
	fecFragmentSize int
	reconstructed   bool
	reconstructedLen int

	createdAt           time.Time
	lastNonNackPacketAt time.Time
	lastNackedAt        time.Time

	recoveryMode    bool
	numTimesNacked  int
	lastNackedIndex int // -1 means "start of frame"
	lastReceivedIndex int // highest index ever received, -1 if none
	nextRecoveryAt  time.Time

	isStreamStart bool
}

func newSlot() *slot {
	return &slot{lastNackedIndex: -1, lastReceivedIndex: -1}
}

// reset clears a slot and releases its buffer to pool.
func (s *slot) reset(pool *alloc.Pool) {
	if s.buf != nil && pool != nil {
		pool.Put(s.buf)
	}
	*s = slot{lastNackedIndex: -1, lastReceivedIndex: -1}
}

// init begins assembling a new frame id in this slot.
func (s *slot) init(pool *alloc.Pool, frameID uint32, numOriginal, numFEC uint16, isStreamStart bool) {
	numIndices := numOriginal + numFEC
	s.occupied = true
	s.frameID = frameID
	s.numOriginal = numOriginal
	s.numFEC = numFEC
	s.numIndices = numIndices
	s.received = make([]bool, numIndices)
	s.timesNacked = make([]int, numIndices)
	s.originalReceived = 0
	s.fecReceived = 0
	s.buf = pool.Get(int(numOriginal) * wire.MaxPayloadSize)
	s.createdAt = time.Now()
	s.lastNonNackPacketAt = s.createdAt
	s.lastNackedIndex = -1
	s.lastReceivedIndex = -1
	s.isStreamStart = isStreamStart

	if numFEC > 0 {
		shardSize := wire.MaxPayloadSize
		codec, err := fec.NewFrameCodec(int(numOriginal), int(numFEC), shardSize)
		if err == nil {
			s.fecCodec = codec
			s.fecFragmentSize = shardSize
		}
	}
}

// isReady reports whether the slot's frame can be rendered: either all
// original indices arrived, or FEC reconstruction succeeded.
func (s *slot) isReady() bool {
	if !s.occupied {
		return false
	}
	if s.originalReceived == int(s.numOriginal) {
		return true
	}
	return s.reconstructed
}

// payload returns the ready frame's bytes. Only valid when isReady().
func (s *slot) payload() []byte {
	if s.reconstructed && s.originalReceived < int(s.numOriginal) {
		return s.buf[:s.reconstructedLen]
	}
	return s.buf[:int(s.numOriginal)*wire.MaxPayloadSize]
}
