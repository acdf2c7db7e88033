package nack

import (
	"testing"
	"time"

	"github.com/streamcore/streamcore/pkg/alloc"
	"github.com/streamcore/streamcore/pkg/ring"
	"github.com/streamcore/streamcore/pkg/wire"
)

func payload(b byte) []byte {
	p := make([]byte, wire.MaxPayloadSize)
	for i := range p {
		p[i] = b
	}
	return p
}

func packet(frameID uint32, index, numOriginal uint16) *wire.Packet {
	return &wire.Packet{
		StreamType: wire.StreamVideo,
		FrameID:    frameID,
		Index:      index,
		NumIndices: numOriginal,
		Payload:    payload(byte(index)),
	}
}

// Scenario 3 (spec.md §8): a single dropped index triggers exactly one
// NACK for that index once the recovery-mode latency threshold has
// elapsed.
func TestTickEmitsSingleNackForIsolatedLoss(t *testing.T) {
	buf := ring.NewBuffer(wire.StreamVideo, 8, alloc.NewPool())
	const nOriginal = 20
	for i := uint16(0); i < nOriginal; i++ {
		if i == 5 {
			continue // dropped
		}
		if _, err := buf.Accept(packet(200, i, nOriginal)); err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
	}

	var emitted []wire.Message
	eng := NewEngine(func(_ wire.StreamType, msg wire.Message) error {
		emitted = append(emitted, msg)
		return nil
	}, Source{Buffer: buf})

	// Enter recovery mode by sleeping past 0.2 * latency since the last
	// packet arrived (2ms for the 10ms latency passed to Tick).
	time.Sleep(5 * time.Millisecond)
	if err := eng.Tick(10 * time.Millisecond); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	count := 0
	for _, msg := range emitted {
		if msg.Kind != wire.MsgNackSingle {
			continue
		}
		ns := msg.Body.(wire.NackSingle)
		if ns.FrameID == 200 && ns.Index == 5 {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("got %d NackSingle messages for (200, 5), want exactly 1: %+v", count, emitted)
	}
}

func TestGroupContiguousCollapsesRuns(t *testing.T) {
	candidates := []ring.MissingIndex{
		{FrameID: 1, Index: 2},
		{FrameID: 1, Index: 3},
		{FrameID: 1, Index: 4},
		{FrameID: 1, Index: 9},
	}
	runs := groupContiguous(candidates)
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].start != 2 || runs[0].count != 3 {
		t.Fatalf("runs[0] = %+v, want start=2 count=3", runs[0])
	}
	if runs[1].start != 9 || runs[1].count != 1 {
		t.Fatalf("runs[1] = %+v, want start=9 count=1", runs[1])
	}
}

func TestEncodeSelectsBitarrayAboveThreshold(t *testing.T) {
	eng := &Engine{}
	msg, _ := eng.encode(wire.StreamVideo, run{frameID: 1, start: 0, count: 3})
	if msg.Kind != wire.MsgNackBitarray {
		t.Fatalf("Kind = %v, want MsgNackBitarray for a 3-run", msg.Kind)
	}
	msg, _ = eng.encode(wire.StreamVideo, run{frameID: 1, start: 0, count: 2})
	if msg.Kind != wire.MsgNackSingle {
		t.Fatalf("Kind = %v, want MsgNackSingle for a 2-run", msg.Kind)
	}
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	now := time.Now()
	b := newTokenBucket(100, 1000, now)
	if !b.take(now, 100) {
		t.Fatal("expected full bucket to allow a full-capacity take")
	}
	if b.take(now, 1) {
		t.Fatal("expected empty bucket to reject an immediate take")
	}
	later := now.Add(50 * time.Millisecond)
	if !b.take(later, 40) {
		t.Fatal("expected bucket to have refilled ~50 tokens after 50ms at 1000/s")
	}
}
