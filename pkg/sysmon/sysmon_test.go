package sysmon

import (
	"context"
	"testing"
	"time"
)

func TestRunPopulatesLastSample(t *testing.T) {
	m := New(10 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	m.Run(ctx)

	s := m.Last()
	if s.At.IsZero() {
		t.Fatal("expected at least one sample to have been taken")
	}
}

func TestNewDefaultsNonPositiveInterval(t *testing.T) {
	m := New(0)
	if m.interval != time.Second {
		t.Fatalf("interval = %v, want 1s default", m.interval)
	}
}
