package wire

// MessageKind enumerates the control messages carried on the Message
// stream, per spec.md §6.
type MessageKind uint8

const (
	MsgKeyboard MessageKind = iota + 1
	MsgKeyboardState
	MsgMouseMotion
	MsgMouseButton
	MsgMouseWheel
	MsgMultigesture
	MsgNackSingle
	MsgNackBitarray
	MsgDimensions
	MsgPing
	MsgPong
	MsgStreamReset
	MsgFrameAck
	MsgDiscoveryRequest
	MsgQuit
	MsgInteractionMode
	MsgClipboardChunk
)

// Keyboard carries a single key transition. Ordering matters: the server
// tracks last_input_msg_id and drops out-of-order keyboard messages
// (spec.md §4.9).
type Keyboard struct {
	MsgID     uint32
	Code      uint16
	Modifiers uint8
	Pressed   bool
}

// KeyboardState reports the full pressed-key vector plus lock states,
// used to resynchronize after a dropped Keyboard message.
type KeyboardState struct {
	MsgID    uint32
	CapsLock bool
	NumLock  bool
	KeyCodes []uint16
}

// MouseMotion is either an absolute or relative pointer update.
type MouseMotion struct {
	Absolute bool
	X, Y     int32 // absolute: normalized to MouseScalingFactor; relative: delta
}

// MouseScalingFactor is the fixed normalization for absolute mouse
// coordinates, independent of the client's display resolution
// (spec.md §4.9).
const MouseScalingFactor = 100000

type MouseButton struct {
	Button  uint8
	Pressed bool
}

type MouseWheel struct {
	HighRes bool
	Delta   int32
}

type Multigesture struct {
	X, Y       float32
	DTheta     float32
	DDist      float32
	NumFingers uint16
}

// NackSingle requests retransmission of one fragment.
type NackSingle struct {
	Stream  StreamType
	FrameID uint32
	Index   uint16
}

// NackBitarray bundles many contiguous missing indices into one Message
// packet (spec.md §4.4).
type NackBitarray struct {
	Stream     StreamType
	FrameID    uint32
	StartIndex uint16
	Bits       []byte // bit i set => index StartIndex+i is missing
}

type Dimensions struct {
	Width, Height int32
	DPI           int32
	Codec         Codec
}

type Ping struct{ ID uint32 }
type Pong struct{ ID uint32 }

// StreamReset is client-initiated: too much time has passed with no
// rendering progress, so the client asks the server for a recovery-class
// frame (spec.md §4.8).
type StreamReset struct {
	Stream          StreamType
	GreatestFailedID uint32
}

// FrameAck reports that a frame (typically an LTR candidate) has been
// durably received, per spec.md §3's long-term-reference context.
type FrameAck struct {
	FrameID uint32
}

type DiscoveryRequest struct{}
type Quit struct{ Reason string }

type InteractionMode struct {
	Mode uint8
}

// ClipboardChunk is carried only as an opaque framing payload; its
// contents and any clipboard semantics are out of scope (spec.md §1).
type ClipboardChunk struct {
	ChunkIndex int32
	TotalChunks int32
	Data       []byte
}

// Message is the envelope for any control-stream payload.
type Message struct {
	Kind MessageKind
	Body interface{}
}
