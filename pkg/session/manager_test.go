package session

import "testing"

func TestCreateSessionRefusesSecondActive(t *testing.T) {
	m := NewManager(4)
	if _, err := m.CreateSession(); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := m.CreateSession(); err == nil {
		t.Fatal("expected second CreateSession to fail while one is active")
	}
}

func TestCloseSessionClearsActive(t *testing.T) {
	m := NewManager(4)
	s, err := m.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	m.CloseSession(s.ID)
	if m.HasActiveSession() {
		t.Fatal("expected no active session after close")
	}
	if _, err := m.CreateSession(); err != nil {
		t.Fatalf("CreateSession after close: %v", err)
	}
}

func TestListSessionsForgetsClosedSessions(t *testing.T) {
	m := NewManager(4)
	s, _ := m.CreateSession()
	m.CloseSession(s.ID)
	// Closed sessions are forgotten entirely, matching the teacher's
	// single-active-session model: list only reflects what is tracked.
	if len(m.ListSessions()) != 0 {
		t.Fatalf("ListSessions = %d, want 0 after close", len(m.ListSessions()))
	}
}
