package encoderdrv

import (
	"testing"

	"github.com/streamcore/streamcore/pkg/cc"
	"github.com/streamcore/streamcore/pkg/iface"
	"github.com/streamcore/streamcore/pkg/wire"
)

type fakeCapture struct {
	reconfigureCalls int
	lastW, lastH     int
	frames           [][]iface.CapturedFrame
	idx              int
}

func (f *fakeCapture) Reconfigure(w, h int) error {
	f.reconfigureCalls++
	f.lastW, f.lastH = w, h
	return nil
}

func (f *fakeCapture) Capture() ([]iface.CapturedFrame, error) {
	if f.idx >= len(f.frames) {
		return nil, nil
	}
	out := f.frames[f.idx]
	f.idx++
	return out, nil
}

func (f *fakeCapture) Close() error { return nil }

type fakeEncoder struct {
	reconfigureCalls int
	iframeCalls      int
	ltrActions       []int
}

func (f *fakeEncoder) Reconfigure(w, h int, bitrate, vbv int64, codec wire.Codec) error {
	f.reconfigureCalls++
	return nil
}
func (f *fakeEncoder) SetIFrame()                      { f.iframeCalls++ }
func (f *fakeEncoder) SetLTRAction(action, index int)  { f.ltrActions = append(f.ltrActions, action) }
func (f *fakeEncoder) Encode(frame iface.CapturedFrame) (iface.EncodeResult, error) {
	return iface.EncodeResult{FrameType: wire.FrameNormal, Packets: []iface.EncodedPacket{{Data: []byte("x")}}}, nil
}
func (f *fakeEncoder) Close() error { return nil }

func TestRoundDimensionsClampsAndRounds(t *testing.T) {
	w, h := roundDimensions(1919, 1079)
	if w != 1920 || h != 1080 {
		t.Fatalf("roundDimensions(1919,1079) = (%d,%d), want (1920,1080)", w, h)
	}
	w, h = roundDimensions(10, 10)
	if w != MinScreen || h != MinScreen {
		t.Fatalf("roundDimensions below floor = (%d,%d), want floor %d", w, h, MinScreen)
	}
}

func TestTickReconfiguresDeviceOnDimensionChange(t *testing.T) {
	capture := &fakeCapture{frames: [][]iface.CapturedFrame{{{Width: 1920, Height: 1080}}}}
	encoder := &fakeEncoder{}
	controller := cc.New(4_000_000, 60, wire.CodecH264)

	var sent []wire.VideoFrameHeader
	d := New(capture, encoder, controller, func(h wire.VideoFrameHeader, isStart bool) error {
		sent = append(sent, h)
		return nil
	}, nil)

	d.SetClientDimensions(1920, 1080, 96)
	if err := d.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if capture.reconfigureCalls != 1 {
		t.Fatalf("reconfigureCalls = %d, want 1", capture.reconfigureCalls)
	}
	if encoder.reconfigureCalls != 1 {
		t.Fatalf("encoder reconfigureCalls = %d, want 1", encoder.reconfigureCalls)
	}
	if len(sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sent))
	}
}

func TestTickDoesNothingBeforeDimensionsAnnounced(t *testing.T) {
	capture := &fakeCapture{}
	encoder := &fakeEncoder{}
	controller := cc.New(4_000_000, 60, wire.CodecH264)
	called := false
	d := New(capture, encoder, controller, func(h wire.VideoFrameHeader, isStart bool) error {
		called = true
		return nil
	}, nil)

	if err := d.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if called || capture.reconfigureCalls != 0 {
		t.Fatal("expected Tick to no-op before dimensions are announced")
	}
}

func TestRequestStreamRestartForcesIntra(t *testing.T) {
	capture := &fakeCapture{frames: [][]iface.CapturedFrame{{{Width: 1920, Height: 1080}}}}
	encoder := &fakeEncoder{}
	controller := cc.New(4_000_000, 60, wire.CodecH264)
	d := New(capture, encoder, controller, func(h wire.VideoFrameHeader, isStart bool) error { return nil }, nil)

	d.SetClientDimensions(1920, 1080, 96)
	d.RequestStreamRestart()
	if err := d.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if encoder.iframeCalls != 1 {
		t.Fatalf("iframeCalls = %d, want 1", encoder.iframeCalls)
	}
}
