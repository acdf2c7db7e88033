package errmon

import (
	"errors"
	"testing"

	"github.com/streamcore/streamcore/pkg/errkind"
)

func TestReportErrorCountsByKind(t *testing.T) {
	m := New(nil, nil)
	m.ReportError(errkind.PacketCorruption, errors.New("tag mismatch"))
	m.ReportError(errkind.PacketCorruption, errors.New("tag mismatch again"))
	m.ReportError(errkind.ConnectionLost, errors.New("ping timeout"))

	if got := m.Count(errkind.PacketCorruption); got != 2 {
		t.Fatalf("Count(PacketCorruption) = %d, want 2", got)
	}
	if got := m.Count(errkind.ConnectionLost); got != 1 {
		t.Fatalf("Count(ConnectionLost) = %d, want 1", got)
	}
}

func TestReportErrorEscalatesFatalKinds(t *testing.T) {
	var escalated []Report
	m := New(nil, func(r Report) { escalated = append(escalated, r) })

	m.ReportError(errkind.PacketCorruption, errors.New("benign"))
	if len(escalated) != 0 {
		t.Fatalf("non-fatal kind should not escalate, got %+v", escalated)
	}

	m.ReportError(errkind.InvariantViolation, errors.New("N_original mismatch"))
	if len(escalated) != 1 || escalated[0].Kind != errkind.InvariantViolation {
		t.Fatalf("expected InvariantViolation to escalate, got %+v", escalated)
	}
}
