package inputreplay

import (
	"testing"

	"github.com/streamcore/streamcore/pkg/wire"
)

type fakeDevice struct {
	keyEvents   []wire.Keyboard
	absMotion   [][2]int32
	relMotion   [][2]int32
	buttons     []wire.MouseButton
}

func (f *fakeDevice) Keyboard(code uint16, mod uint8, pressed bool) error {
	f.keyEvents = append(f.keyEvents, wire.Keyboard{Code: code, Modifiers: mod, Pressed: pressed})
	return nil
}
func (f *fakeDevice) KeyboardState(caps, num bool, codes []uint16) error { return nil }
func (f *fakeDevice) MouseMotionAbsolute(x, y int32) error {
	f.absMotion = append(f.absMotion, [2]int32{x, y})
	return nil
}
func (f *fakeDevice) MouseMotionRelative(dx, dy int32) error {
	f.relMotion = append(f.relMotion, [2]int32{dx, dy})
	return nil
}
func (f *fakeDevice) MouseButton(button uint8, pressed bool) error {
	f.buttons = append(f.buttons, wire.MouseButton{Button: button, Pressed: pressed})
	return nil
}
func (f *fakeDevice) MouseWheel(highRes bool, delta int32) error { return nil }
func (f *fakeDevice) Multigesture(x, y, dTheta, dDist float32, numFingers uint16) error { return nil }

func TestApplyDropsOutOfOrderKeyboardMessages(t *testing.T) {
	dev := &fakeDevice{}
	r := New(dev, nil, nil)

	if err := r.Apply(wire.Message{Kind: wire.MsgKeyboard, Body: wire.Keyboard{MsgID: 5, Code: 1, Pressed: true}}, 0); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := r.Apply(wire.Message{Kind: wire.MsgKeyboard, Body: wire.Keyboard{MsgID: 3, Code: 2, Pressed: true}}, 0); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(dev.keyEvents) != 1 || dev.keyEvents[0].Code != 1 {
		t.Fatalf("keyEvents = %+v, want only the in-order MsgID=5 event", dev.keyEvents)
	}
}

func TestApplyTranslatesKeyCodesThroughKeymap(t *testing.T) {
	dev := &fakeDevice{}
	r := New(dev, func(c uint16) uint16 { return c + 100 }, nil)

	if err := r.Apply(wire.Message{Kind: wire.MsgKeyboard, Body: wire.Keyboard{MsgID: 1, Code: 5, Pressed: true}}, 0); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(dev.keyEvents) != 1 || dev.keyEvents[0].Code != 105 {
		t.Fatalf("keyEvents = %+v, want translated code 105", dev.keyEvents)
	}
}

func TestApplyRescalesAbsoluteMouseByScreenSize(t *testing.T) {
	dev := &fakeDevice{}
	r := New(dev, nil, nil)
	r.SetScreenSize(1920, 1080)

	half := int32(wire.MouseScalingFactor / 2)
	if err := r.Apply(wire.Message{Kind: wire.MsgMouseMotion, Body: wire.MouseMotion{Absolute: true, X: half, Y: half}}, 0); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(dev.absMotion) != 1 {
		t.Fatalf("absMotion = %+v, want one event", dev.absMotion)
	}
	x, y := dev.absMotion[0][0], dev.absMotion[0][1]
	if x != 960 || y != 540 {
		t.Fatalf("rescaled absolute = (%d,%d), want (960,540)", x, y)
	}
}

func TestApplyPassesThroughRelativeMotionUnscaled(t *testing.T) {
	dev := &fakeDevice{}
	r := New(dev, nil, nil)
	r.SetScreenSize(1920, 1080)

	if err := r.Apply(wire.Message{Kind: wire.MsgMouseMotion, Body: wire.MouseMotion{Absolute: false, X: 10, Y: -5}}, 0); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(dev.relMotion) != 1 || dev.relMotion[0] != [2]int32{10, -5} {
		t.Fatalf("relMotion = %+v, want [{10 -5}]", dev.relMotion)
	}
}

func TestApplyInvokesInputTimestampCallback(t *testing.T) {
	dev := &fakeDevice{}
	r := New(dev, nil, nil)
	var gotTs int64 = -1
	r.OnInputTimestamp(func(ts int64) { gotTs = ts })

	if err := r.Apply(wire.Message{Kind: wire.MsgMouseButton, Body: wire.MouseButton{Button: 1, Pressed: true}}, 12345); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if gotTs != 12345 {
		t.Fatalf("onInput timestamp = %d, want 12345", gotTs)
	}
}
