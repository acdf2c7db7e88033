package fec

// FrameCodec is the domain-facing Reed-Solomon codec for one frame's
// nOriginal/nFEC split (spec.md §3, §4.1): it is the only thing ring
// and udpsock ever construct or call, and it owns the shardCodec
// matrix internals in fec.go as a private implementation detail.
type FrameCodec struct {
	codec     *shardCodec
	shardSize int
}

// NewFrameCodec builds a codec for a frame with nOriginal data fragments
// and nFEC parity fragments, each shardSize bytes (the last original
// fragment is zero-padded by the caller to shardSize before encoding).
func NewFrameCodec(nOriginal, nFEC, shardSize int) (*FrameCodec, error) {
	codec, err := newShardCodec(nOriginal, nFEC)
	if err != nil {
		return nil, err
	}
	return &FrameCodec{codec: codec, shardSize: shardSize}, nil
}

// Encode produces the nFEC parity shards for a full set of original
// shards. originals must have exactly NumOriginal() entries, each
// shardSize bytes.
func (f *FrameCodec) Encode(originals [][]byte) ([][]byte, error) {
	shards := make([][]byte, f.codec.nTotal)
	copy(shards, originals)
	for i := f.codec.nOriginal; i < f.codec.nTotal; i++ {
		shards[i] = make([]byte, f.shardSize)
	}
	if err := f.codec.encode(shards); err != nil {
		return nil, err
	}
	return shards[f.codec.nOriginal:], nil
}

// Reconstruct fills in any missing original shards given whatever
// original and parity shards are present. shards has exactly
// NumOriginal()+NumFEC() entries; present[i] reports whether shards[i]
// holds real data. On success, shards[i] holds the payload for every
// i < NumOriginal(); present itself is not modified.
func (f *FrameCodec) Reconstruct(shards [][]byte, present []bool) error {
	return f.codec.reconstruct(shards, present)
}

// NumOriginal returns nOriginal for this frame.
func (f *FrameCodec) NumOriginal() int { return f.codec.nOriginal }

// NumFEC returns nFEC for this frame.
func (f *FrameCodec) NumFEC() int { return f.codec.nFEC }
