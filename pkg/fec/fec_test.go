package fec

import (
	"bytes"
	"testing"
)

func buildShards(data []byte, n, shardSize int) [][]byte {
	shards := make([][]byte, n)
	for i := 0; i < n; i++ {
		s := make([]byte, shardSize)
		start := i * shardSize
		end := start + shardSize
		if start < len(data) {
			if end > len(data) {
				end = len(data)
			}
			copy(s, data[start:end])
		}
		shards[i] = s
	}
	return shards
}

func TestFrameCodecReconstructsAnyLossWithinFECBudget(t *testing.T) {
	const (
		nOriginal = 10
		nFEC      = 4
		shardSize = 256
	)
	data := bytes.Repeat([]byte{0xAB}, nOriginal*shardSize)
	originals := buildShards(data, nOriginal, shardSize)

	codec, err := NewFrameCodec(nOriginal, nFEC, shardSize)
	if err != nil {
		t.Fatalf("NewFrameCodec: %v", err)
	}
	parity, err := codec.Encode(originals)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	lost := map[int]bool{2: true, 7: true, 11: true} // up to nFEC losses, mixed original/parity
	all := append(append([][]byte{}, originals...), parity...)
	shards := make([][]byte, len(all))
	present := make([]bool, len(all))
	for i := range all {
		present[i] = !lost[i]
		if present[i] {
			shards[i] = all[i]
		} else {
			shards[i] = nil
		}
	}

	if err := codec.Reconstruct(shards, present); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	for i := 0; i < nOriginal; i++ {
		if !bytes.Equal(shards[i], originals[i]) {
			t.Fatalf("shard %d mismatch after reconstruction", i)
		}
	}
}

func TestFrameCodecSingleIndexFrameReadyImmediately(t *testing.T) {
	codec, err := NewFrameCodec(1, 1, 16)
	if err != nil {
		t.Fatalf("NewFrameCodec: %v", err)
	}
	if codec.NumOriginal() != 1 {
		t.Fatalf("NumOriginal() = %d, want 1", codec.NumOriginal())
	}
	original := bytes.Repeat([]byte{7}, 16)
	shards := [][]byte{append([]byte(nil), original...), nil}
	if err := codec.Reconstruct(shards, []bool{true, false}); err != nil {
		t.Fatalf("Reconstruct with the only original present: %v", err)
	}
	if !bytes.Equal(shards[0], original) {
		t.Fatal("shard 0 changed although nothing was missing")
	}
}

func TestFrameCodecTooManyLossesFails(t *testing.T) {
	const (
		nOriginal = 5
		nFEC      = 2
		shardSize = 32
	)
	data := bytes.Repeat([]byte{1}, nOriginal*shardSize)
	originals := buildShards(data, nOriginal, shardSize)
	codec, _ := NewFrameCodec(nOriginal, nFEC, shardSize)
	parity, _ := codec.Encode(originals)

	all := append(append([][]byte{}, originals...), parity...)
	shards := make([][]byte, len(all))
	present := make([]bool, len(all))
	// lose 3 originals, more than nFEC can repair
	for i := range all {
		if i < 3 {
			present[i] = false
			continue
		}
		present[i] = true
		shards[i] = all[i]
	}
	if err := codec.Reconstruct(shards, present); err == nil {
		t.Fatal("expected reconstruction to fail when losses exceed FEC budget")
	}
}
