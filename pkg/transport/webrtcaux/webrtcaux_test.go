package webrtcaux

import (
	"testing"
	"time"
)

func waitForOpen(t *testing.T, conn *Conn, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		conn.mu.Lock()
		open := conn.opened
		conn.mu.Unlock()
		if open {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for data channel to open")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAuxDataChannelCarriesBytesBothWays(t *testing.T) {
	offerer, err := NewManager(nil, nil)
	if err != nil {
		t.Fatalf("NewManager offerer: %v", err)
	}
	answerer, err := NewManager(nil, nil)
	if err != nil {
		t.Fatalf("NewManager answerer: %v", err)
	}
	defer offerer.CloseAll()
	defer answerer.CloseAll()

	offerPC, err := offerer.CreatePeerConnection("peer-a")
	if err != nil {
		t.Fatalf("CreatePeerConnection offerer: %v", err)
	}
	answerPC, err := answerer.CreatePeerConnection("peer-b")
	if err != nil {
		t.Fatalf("CreatePeerConnection answerer: %v", err)
	}

	if err := offerPC.CreateAuxChannel(); err != nil {
		t.Fatalf("CreateAuxChannel: %v", err)
	}

	offerSDP, err := offerPC.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	answerSDP, err := answerPC.HandleOffer(offerSDP)
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if err := offerPC.HandleAnswer(answerSDP); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}

	offerConn := offerPC.Aux().(*Conn)
	waitForOpen(t, offerConn, 5*time.Second)

	if _, err := offerPC.Aux().Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 32)
	answerPC.mu.Lock()
	answerConn := answerPC.conn
	answerPC.mu.Unlock()

	n, err := answerConn.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("read %q, want %q", buf[:n], "hello")
	}
}
