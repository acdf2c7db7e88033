package chunkxfer

import (
	"bytes"
	"testing"

	"github.com/streamcore/streamcore/pkg/wire"
)

func TestSendAcceptRoundTripsSmallPayload(t *testing.T) {
	payload := []byte("clipboard contents")
	var sent []wire.Message
	if err := Send(payload, func(m wire.Message) error {
		sent = append(sent, m)
		return nil
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("sent = %d messages, want 1 for a small payload", len(sent))
	}

	r := NewReassembler()
	out, done, err := r.Accept(sent[0].Body.(wire.ClipboardChunk))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !done {
		t.Fatal("expected reassembly to complete after one chunk")
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("reassembled = %q, want %q", out, payload)
	}
}

func TestSendSplitsAndRoundTripsLargePayload(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 10000)
	var sent []wire.Message
	if err := Send(payload, func(m wire.Message) error {
		sent = append(sent, m)
		return nil
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sent) < 2 {
		t.Fatalf("sent = %d messages, want multiple chunks for a large payload", len(sent))
	}

	r := NewReassembler()
	var out []byte
	var done bool
	var err error
	for _, msg := range sent {
		out, done, err = r.Accept(msg.Body.(wire.ClipboardChunk))
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
	}
	if !done {
		t.Fatal("expected reassembly to complete after the last chunk")
	}
	if !bytes.Equal(out, payload) {
		t.Fatal("reassembled payload does not match original")
	}
}

func TestAcceptHandlesOutOfOrderChunks(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), ChunkSize*3)
	var sent []wire.Message
	if err := Send(payload, func(m wire.Message) error {
		sent = append(sent, m)
		return nil
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sent) != 3 {
		t.Fatalf("sent = %d chunks, want 3", len(sent))
	}

	r := NewReassembler()
	order := []int{2, 0, 1}
	var out []byte
	var done bool
	for _, i := range order {
		var err error
		out, done, err = r.Accept(sent[i].Body.(wire.ClipboardChunk))
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
	}
	if !done || !bytes.Equal(out, payload) {
		t.Fatal("expected out-of-order chunks to still reassemble correctly")
	}
}
