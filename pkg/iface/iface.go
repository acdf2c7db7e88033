// Package iface defines the capability interfaces standing in for the
// OS-specific backends spec.md §9 calls "callback tables (function
// pointers)": screen capture, input injection, and the opaque codec
// encoder/decoder. The core speaks only to these interfaces; a
// particular OS binds a concrete implementation at startup.
package iface

import "github.com/streamcore/streamcore/pkg/wire"

// CapturedFrame is one raw frame handed up from a capture backend.
type CapturedFrame struct {
	Width, Height int
	CaptureTimestampUs int64
	CornerColor wire.RGB
	WindowVisible bool
	Data []byte // backend-defined pixel format, opaque to the core
}

// CaptureDevice is the real-or-virtual screen capture backend.
// Implementations may be NVFBC, X11, DXGI, CoreGraphics, or a test
// double; the core never branches on which.
type CaptureDevice interface {
	// Reconfigure requests a new output size; width/height have
	// already been rounded and clamped by the caller.
	Reconfigure(width, height int) error

	// Capture returns accumulated frames since the last call, oldest
	// first. An empty slice means nothing changed since the last poll.
	Capture() ([]CapturedFrame, error)

	Close() error
}

// EncodedPacket is one opaque, codec-specific output unit.
type EncodedPacket struct {
	Data []byte
}

// EncodeResult is what a single Encode call reports back, per
// spec.md §3's "encoder state" contract.
type EncodeResult struct {
	EncodedFrameSize int
	FrameType        wire.FrameType
	Packets          []EncodedPacket
}

// VideoEncoder is the opaque video codec backend (H.264/H.265).
type VideoEncoder interface {
	Reconfigure(width, height int, bitrateBps int64, vbvSize int64, codec wire.Codec) error
	SetIFrame()
	SetLTRAction(action int, index int)
	Encode(frame CapturedFrame) (EncodeResult, error)
	Close() error
}

// VideoDecoder is the client-side counterpart, fed reassembled Video
// frame payloads and producing displayable pixel data.
type VideoDecoder interface {
	Decode(header wire.VideoFrameHeader) error
	Close() error
}

// AudioEncoder/AudioDecoder mirror VideoEncoder/VideoDecoder for the
// audio stream; audio has no LTR/I-frame concept.
type AudioEncoder interface {
	Encode(pcm []byte) ([]byte, error)
	Close() error
}

type AudioDecoder interface {
	Decode(data []byte) error
	Close() error
}

// InputDevice is the platform-specific input injection backend: the
// server-side target of pkg/inputreplay's replayed events.
type InputDevice interface {
	Keyboard(code uint16, modifiers uint8, pressed bool) error
	KeyboardState(capsLock, numLock bool, keyCodes []uint16) error
	MouseMotionAbsolute(x, y int32) error
	MouseMotionRelative(dx, dy int32) error
	MouseButton(button uint8, pressed bool) error
	MouseWheel(highRes bool, delta int32) error
	Multigesture(x, y, dTheta, dDist float32, numFingers uint16) error
}

// Renderer is the client-side display backend: the target of
// pkg/renderdrv's decoded frames.
type Renderer struct {
	// Present is invoked with a decoded frame's raw data once ready to
	// display; kept as a function value rather than an interface
	// method because the only thing a renderer driver needs is "push
	// pixels", matching the spec's minimal rendering contract.
	Present func(data []byte, width, height int) error
}
