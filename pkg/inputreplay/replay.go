// Package inputreplay implements the server-side input replay of
// spec.md §4.9: ordered keyboard delivery, absolute/relative mouse
// handling with a fixed normalization factor, and translation to a
// platform InputDevice.
package inputreplay

import (
	"sync"

	"github.com/streamcore/streamcore/pkg/iface"
	"github.com/streamcore/streamcore/pkg/logging"
	"github.com/streamcore/streamcore/pkg/wire"
)

// KeyMapper translates a client-OS key code to the server-OS key code,
// standing in for spec.md §4.9's "static table" translation layer.
type KeyMapper func(clientCode uint16) uint16

// Replayer applies reassembled input Messages to a platform InputDevice,
// enforcing keyboard ordering and mouse normalization.
type Replayer struct {
	mu sync.Mutex

	device iface.InputDevice
	keymap KeyMapper
	log    *logging.Logger

	lastInputMsgID uint32
	haveLastID     bool

	capsLock, numLock bool

	screenWidth, screenHeight int32

	onInput func(timestampUs int64)
}

// New builds a Replayer targeting device, translating client key codes
// through keymap (pass nil for an identity mapping).
func New(device iface.InputDevice, keymap KeyMapper, log *logging.Logger) *Replayer {
	if keymap == nil {
		keymap = func(c uint16) uint16 { return c }
	}
	return &Replayer{device: device, keymap: keymap, log: log}
}

// SetScreenSize records the server-side virtual display size, used to
// rescale MouseMotion.Absolute coordinates out of
// wire.MouseScalingFactor (spec.md §4.9).
func (r *Replayer) SetScreenSize(width, height int32) {
	r.mu.Lock()
	r.screenWidth, r.screenHeight = width, height
	r.mu.Unlock()
}

// OnInputTimestamp registers a callback invoked with the server clock
// time (microseconds) every time an input event is successfully
// replayed, feeding spec.md §4.7 step 7's
// "last observed client-input timestamp".
func (r *Replayer) OnInputTimestamp(fn func(timestampUs int64)) {
	r.onInput = fn
}

// Apply replays one reassembled control Message, enforcing ordering
// for keyboard events and dropping anything out of send order.
func (r *Replayer) Apply(msg wire.Message, nowUs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch b := msg.Body.(type) {
	case wire.Keyboard:
		if !r.admitOrderedLocked(b.MsgID) {
			return nil
		}
		code := r.keymap(b.Code)
		if err := r.device.Keyboard(code, b.Modifiers, b.Pressed); err != nil {
			return err
		}
	case wire.KeyboardState:
		if !r.admitOrderedLocked(b.MsgID) {
			return nil
		}
		r.capsLock, r.numLock = b.CapsLock, b.NumLock
		translated := make([]uint16, len(b.KeyCodes))
		for i, c := range b.KeyCodes {
			translated[i] = r.keymap(c)
		}
		if err := r.device.KeyboardState(b.CapsLock, b.NumLock, translated); err != nil {
			return err
		}
	case wire.MouseMotion:
		if b.Absolute {
			x, y := r.rescaleAbsoluteLocked(b.X, b.Y)
			if err := r.device.MouseMotionAbsolute(x, y); err != nil {
				return err
			}
		} else {
			if err := r.device.MouseMotionRelative(b.X, b.Y); err != nil {
				return err
			}
		}
	case wire.MouseButton:
		if err := r.device.MouseButton(b.Button, b.Pressed); err != nil {
			return err
		}
	case wire.MouseWheel:
		if err := r.device.MouseWheel(b.HighRes, b.Delta); err != nil {
			return err
		}
	case wire.Multigesture:
		if err := r.device.Multigesture(b.X, b.Y, b.DTheta, b.DDist, b.NumFingers); err != nil {
			return err
		}
	default:
		return nil // non-input control message, not this layer's concern
	}

	if r.onInput != nil {
		r.onInput(nowUs)
	}
	return nil
}

// admitOrderedLocked enforces spec.md §4.9's keyboard ordering rule:
// MESSAGE_KEYBOARD / MESSAGE_KEYBOARD_STATE must be applied in send
// order, tracked by last_input_msg_id. Must be called with r.mu held.
func (r *Replayer) admitOrderedLocked(msgID uint32) bool {
	if r.haveLastID && msgID <= r.lastInputMsgID {
		if r.log != nil {
			r.log.Warnf("inputreplay: dropping out-of-order keyboard message %d (last %d)", msgID, r.lastInputMsgID)
		}
		return false
	}
	r.lastInputMsgID = msgID
	r.haveLastID = true
	return true
}

// rescaleAbsoluteLocked converts a wire.MouseScalingFactor-normalized
// absolute position into server-display pixel coordinates. Must be
// called with r.mu held.
func (r *Replayer) rescaleAbsoluteLocked(x, y int32) (int32, int32) {
	if r.screenWidth == 0 || r.screenHeight == 0 {
		return x, y
	}
	px := int32(int64(x) * int64(r.screenWidth) / wire.MouseScalingFactor)
	py := int32(int64(y) * int64(r.screenHeight) / wire.MouseScalingFactor)
	return px, py
}

// CapsLock and NumLock report the last toggle states observed from a
// KeyboardState resync, for the platform key-translation layer to
// consult (spec.md §4.9: "caps-lock and num-lock toggles are tracked
// by the driver").
func (r *Replayer) CapsLock() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capsLock
}

func (r *Replayer) NumLock() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numLock
}
