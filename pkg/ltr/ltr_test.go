package ltr

import "testing"

func TestNextRestartForcesIntra(t *testing.T) {
	c := New()
	d := c.Next(true, false)
	if d.Action != ActionIntra {
		t.Fatalf("Action = %v, want ActionIntra", d.Action)
	}
}

func TestNextRecoveryRefersAcknowledgedSlot(t *testing.T) {
	c := New()
	slot := c.NextCreateSlot()
	c.OnFrameAck(slot)

	d := c.Next(false, true)
	if d.Action != ActionReferLongTerm || d.Index != slot {
		t.Fatalf("Decision = %+v, want ReferLongTerm at slot %d", d, slot)
	}
}

func TestNextRecoveryFallsBackToIntraWithNoAcknowledgedSlots(t *testing.T) {
	c := New()
	d := c.Next(false, true)
	if d.Action != ActionIntra {
		t.Fatalf("Action = %v, want ActionIntra when nothing is acknowledged yet", d.Action)
	}
}

func TestNextCreateSlotRotatesThroughAllSlots(t *testing.T) {
	c := New()
	seen := make(map[int]bool)
	for i := 0; i < NumSlots; i++ {
		seen[c.NextCreateSlot()] = true
	}
	if len(seen) != NumSlots {
		t.Fatalf("rotated through %d distinct slots, want %d", len(seen), NumSlots)
	}
	if next := c.NextCreateSlot(); next != 0 {
		t.Fatalf("after a full rotation the next slot = %d, want wraparound to 0", next)
	}
}

func TestNormalDecisionWhenStreamHealthy(t *testing.T) {
	c := New()
	d := c.Next(false, false)
	if d.Action != ActionNormal {
		t.Fatalf("Action = %v, want ActionNormal", d.Action)
	}
}
