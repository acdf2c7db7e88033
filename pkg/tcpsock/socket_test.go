package tcpsock

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/streamcore/streamcore/pkg/crypto"
	"github.com/streamcore/streamcore/pkg/wire"
)

func newTestPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		serverCh <- c
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	server = <-serverCh
	return client, server
}

func newTestSocket(t *testing.T, conn net.Conn) *Socket {
	t.Helper()
	crypt, err := crypto.NewContext(make([]byte, 16))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return New(conn, crypt, nil, nil)
}

func TestSendMessageRoundTripsThroughFraming(t *testing.T) {
	clientConn, serverConn := newTestPair(t)
	defer clientConn.Close()
	defer serverConn.Close()

	sender := newTestSocket(t, clientConn)
	receiver := newTestSocket(t, serverConn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sender.SenderLoop(ctx)

	received := make(chan wire.Message, 1)
	receiver.OnMessage(func(m wire.Message) { received <- m })
	go receiver.RecvLoop(ctx)

	if err := sender.SendMessage(wire.Message{Kind: wire.MsgPing, Body: wire.Ping{ID: 7}}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	select {
	case msg := <-received:
		ping, ok := msg.Body.(wire.Ping)
		if !ok || ping.ID != 7 {
			t.Fatalf("got %+v, want Ping{ID:7}", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for framed message")
	}
}

func TestSendMessageCompressesLargePayloadsTransparently(t *testing.T) {
	clientConn, serverConn := newTestPair(t)
	defer clientConn.Close()
	defer serverConn.Close()

	sender := newTestSocket(t, clientConn)
	receiver := newTestSocket(t, serverConn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sender.SenderLoop(ctx)

	received := make(chan wire.Message, 1)
	receiver.OnMessage(func(m wire.Message) { received <- m })
	go receiver.RecvLoop(ctx)

	big := make([]byte, compressThreshold*4)
	for i := range big {
		big[i] = byte(i % 7)
	}
	chunk := wire.ClipboardChunk{ChunkIndex: 0, TotalChunks: 1, Data: big}
	if err := sender.SendMessage(wire.Message{Kind: wire.MsgClipboardChunk, Body: chunk}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	select {
	case msg := <-received:
		got, ok := msg.Body.(wire.ClipboardChunk)
		if !ok {
			t.Fatalf("got %T, want wire.ClipboardChunk", msg.Body)
		}
		if len(got.Data) != len(big) {
			t.Fatalf("len(Data) = %d, want %d", len(got.Data), len(big))
		}
		for i := range big {
			if got.Data[i] != big[i] {
				t.Fatalf("Data[%d] = %d, want %d", i, got.Data[i], big[i])
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for compressed framed message")
	}
}

func TestSendQueueShedsOldestWhenFull(t *testing.T) {
	clientConn, serverConn := newTestPair(t)
	defer clientConn.Close()
	defer serverConn.Close()
	s := newTestSocket(t, clientConn)

	for i := 0; i < SendQueueSize+4; i++ {
		if err := s.Send([]byte{byte(i)}); err != nil {
			t.Fatalf("Send(%d): %v", i, err)
		}
	}
	if len(s.sendCh) != SendQueueSize {
		t.Fatalf("queue length = %d, want %d", len(s.sendCh), SendQueueSize)
	}
}

func TestPoisonRejectsFurtherSends(t *testing.T) {
	clientConn, serverConn := newTestPair(t)
	defer clientConn.Close()
	defer serverConn.Close()
	s := newTestSocket(t, clientConn)

	s.Poison(context.DeadlineExceeded)
	if !s.IsPoisoned() {
		t.Fatal("expected IsPoisoned() to be true after Poison")
	}
	if err := s.Send([]byte("hi")); err != ErrPoisoned {
		t.Fatalf("Send after poison = %v, want ErrPoisoned", err)
	}
}

func TestRecvLoopPoisonsOnOutOfRangeDeclaredSize(t *testing.T) {
	clientConn, serverConn := newTestPair(t)
	defer clientConn.Close()
	defer serverConn.Close()
	receiver := newTestSocket(t, serverConn)

	// Write a header whose declared_payload_size is 0xFFFF0000, negative
	// as an int32 and so out of range.
	header := make([]byte, wire.TCPEnvelopeHeaderSize)
	header[wire.TCPEnvelopeHeaderSize-1] = 0xFF // top byte of a little-endian int32
	header[wire.TCPEnvelopeHeaderSize-2] = 0xFF
	if _, err := clientConn.Write(header); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = receiver.RecvLoop(ctx)

	if !receiver.IsPoisoned() {
		t.Fatal("expected RecvLoop to poison the connection on an out-of-range declared size")
	}
}

func TestIsConnectionLostDetectsMissedPongs(t *testing.T) {
	clientConn, serverConn := newTestPair(t)
	defer clientConn.Close()
	defer serverConn.Close()
	s := newTestSocket(t, clientConn)

	s.lastPingID = 3
	s.lastPongID = 0
	if !s.IsConnectionLost() {
		t.Fatal("expected connection to be reported lost after missed pongs")
	}
	s.lastPongID = 2
	if s.IsConnectionLost() {
		t.Fatal("did not expect connection lost once pongs mostly caught up")
	}
}
