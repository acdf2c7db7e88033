package wire

// FrameType classifies a Video frame's relationship to the reference chain.
type FrameType int32

const (
	FrameNormal FrameType = iota
	FrameIntra
	FrameCreateLongTerm
	FrameReferLongTerm
)

// Codec identifies the opaque video codec in use.
type Codec int32

const (
	CodecH264 Codec = iota
	CodecH265
)

// RGB is a single corner-color sample used to tint letterboxing while a
// frame is still arriving.
type RGB struct {
	R, G, B uint8
}

// VideoFrameHeader precedes the encoded payload of a Video frame.
type VideoFrameHeader struct {
	Width      int32
	Height     int32
	Codec      Codec
	FrameType  FrameType
	CornerColor RGB

	HasCursor   bool
	CursorEmbed []byte // optional embedded cursor image, nil if absent

	ServerTimestampUs    int64 // capture timestamp, server clock
	ClientInputTimestampUs int64 // echoed back for RTT measurement

	VideoData []byte
}

// AudioFrame is either an empty sentinel heartbeat or an encoded payload.
type AudioFrame struct {
	Data []byte // nil/empty => empty frame sentinel
}

// IsEmpty reports whether this is the audio heartbeat sentinel.
func (a *AudioFrame) IsEmpty() bool {
	return len(a.Data) == 0
}
