package wire

import "testing"

func TestPacketRoundTrip(t *testing.T) {
	p := &Packet{
		StreamType:    StreamVideo,
		IsStreamStart: true,
		FrameID:       42,
		Index:         3,
		NumIndices:    10,
		NumFECIndices: 2,
		Payload:       []byte("aaabbbccc"),
	}
	data := p.Marshal()
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.FrameID != p.FrameID || got.Index != p.Index || string(got.Payload) != string(p.Payload) {
		t.Fatalf("round-trip mismatch: %+v vs %+v", got, p)
	}
}

func TestPacketValidateBounds(t *testing.T) {
	cases := []struct {
		name string
		p    Packet
		ok   bool
	}{
		{"valid", Packet{Index: 0, NumIndices: 1, NumFECIndices: 0}, true},
		{"index oob", Packet{Index: 5, NumIndices: 5, NumFECIndices: 0}, false},
		{"fec oob", Packet{Index: 0, NumIndices: 5, NumFECIndices: 5}, false},
		{"payload too large", Packet{Index: 0, NumIndices: 1, NumFECIndices: 0, Payload: make([]byte, MaxPayloadSize+1)}, false},
	}
	for _, c := range cases {
		err := c.p.Validate()
		if (err == nil) != c.ok {
			t.Errorf("%s: Validate() = %v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	if _, err := Unmarshal([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated packet")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msgs := []Message{
		{Kind: MsgNackSingle, Body: NackSingle{Stream: StreamVideo, FrameID: 200, Index: 5}},
		{Kind: MsgPing, Body: Ping{ID: 7}},
		{Kind: MsgStreamReset, Body: StreamReset{Stream: StreamVideo, GreatestFailedID: 99}},
		{Kind: MsgDimensions, Body: Dimensions{Width: 1920, Height: 1080, DPI: 96, Codec: CodecH264}},
	}
	for _, m := range msgs {
		enc, err := EncodeMessage(m)
		if err != nil {
			t.Fatalf("encode %v: %v", m.Kind, err)
		}
		dec, err := DecodeMessage(enc)
		if err != nil {
			t.Fatalf("decode %v: %v", m.Kind, err)
		}
		if dec.Kind != m.Kind {
			t.Errorf("kind mismatch: got %v want %v", dec.Kind, m.Kind)
		}
	}
}
