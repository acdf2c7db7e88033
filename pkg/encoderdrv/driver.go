// Package encoderdrv implements the server encoder driver of spec.md
// §4.7: capture → reconfigure → encode → send, including LTR action
// selection, heartbeat synthesis, and the idle-encoder power saving
// mode.
package encoderdrv

import (
	"sync"
	"time"

	"github.com/streamcore/streamcore/pkg/cc"
	"github.com/streamcore/streamcore/pkg/iface"
	"github.com/streamcore/streamcore/pkg/logging"
	"github.com/streamcore/streamcore/pkg/ltr"
	"github.com/streamcore/streamcore/pkg/wire"
)

// Screen dimension bounds the capture device may be reconfigured to
// (spec.md §4.7 step 2 names the rounding rule but not the bounds
// themselves — chosen here as an Open Question decision, see DESIGN.md).
const (
	MinScreen = 256
	MaxScreen = 7680

	// AudioBitrateBps is subtracted from the negotiated total bitrate
	// before sizing the video encoder (spec.md §4.7 step 4).
	AudioBitrateBps = 128_000

	// NumPrevAudioFramesResend is how many trailing audio frames are
	// re-sent alongside each new one to ride out brief audio loss; the
	// video bitrate budget reserves room for this resend plus the
	// current frame (spec.md §4.7 step 4's formula).
	NumPrevAudioFramesResend = 3

	// ConsecutiveIdenticalFrames is how many unchanged capture polls in
	// a row trigger the encoder-disable power save mode (spec.md §4.7
	// step 6 — value is an Open Question decision, see DESIGN.md).
	ConsecutiveIdenticalFrames = 120

	// DisabledEncoderFPS is the heartbeat rate maintained while the
	// encoder is disabled.
	DisabledEncoderFPS = 1

	// cornerResampleInterval matches the original's fixed cadence for
	// re-sampling the corner color outside of I-frames (see
	// SPEC_FULL.md's supplemented features).
	cornerResampleInterval = 500 * time.Millisecond
)

// Sender is the transport-facing callback the driver hands finished
// Video frames to; normally pkg/udpsock.Socket.SendPacket.
type Sender func(header wire.VideoFrameHeader, isStreamStart bool) error

// Driver runs the capture/encode/send loop for one active client.
type Driver struct {
	mu sync.Mutex

	capture iface.CaptureDevice
	encoder iface.VideoEncoder
	cc      *cc.Controller
	ltr     *ltr.Context
	send    Sender
	log     *logging.Logger

	clientActive bool
	width, height, dpi int
	updateDevice  bool
	updateEncoder bool

	lastReportedSettings wire.NetworkSettings
	haveLastSettings     bool

	lastFrameType wire.FrameType
	lastCursorHash uint64
	lastCornerSampleAt time.Time

	identicalFrameCount int
	encoderDisabled     bool

	lastEmptyFrameAt time.Time
	lastClientInputTimestampUs int64

	streamNeedsRestart, streamNeedsRecovery bool
}

// New builds a Driver around a capture device, an encoder, and a
// congestion controller; send ships finished Video frames downstream.
func New(capture iface.CaptureDevice, encoder iface.VideoEncoder, controller *cc.Controller, send Sender, log *logging.Logger) *Driver {
	return &Driver{
		capture: capture,
		encoder: encoder,
		cc:      controller,
		ltr:     ltr.New(),
		send:    send,
		log:     log,
	}
}

// SetClientDimensions records the renderer-announced dimensions/DPI
// that gate capture (spec.md §4.7 step 1) and requests a device
// reconfigure if they changed.
func (d *Driver) SetClientDimensions(width, height, dpi int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clientActive = true
	rw, rh := roundDimensions(width, height)
	if rw != d.width || rh != d.height || dpi != d.dpi {
		d.width, d.height, d.dpi = rw, rh, dpi
		d.updateDevice = true
	}
}

// roundDimensions implements spec.md §4.7 step 2: width rounded up to
// a multiple of 8, height to a multiple of 2, both clamped to
// [MinScreen, MaxScreen].
func roundDimensions(width, height int) (int, int) {
	w := ((width + 7) / 8) * 8
	h := ((height + 1) / 2) * 2
	if w < MinScreen {
		w = MinScreen
	}
	if w > MaxScreen {
		w = MaxScreen
	}
	if h < MinScreen {
		h = MinScreen
	}
	if h > MaxScreen {
		h = MaxScreen
	}
	return w, h
}

// RequestStreamRestart forces the next Tick to emit an Intra frame,
// e.g. in response to a client StreamReset.
func (d *Driver) RequestStreamRestart() {
	d.mu.Lock()
	d.streamNeedsRestart = true
	d.mu.Unlock()
}

// RequestStreamRecovery marks the stream broken so the next Tick
// prefers a ReferLongTerm frame over a full Intra, if a slot is
// available.
func (d *Driver) RequestStreamRecovery() {
	d.mu.Lock()
	d.streamNeedsRecovery = true
	d.mu.Unlock()
}

// OnFrameAck forwards a client frame acknowledgment to the LTR context.
func (d *Driver) OnFrameAck(ltrIndex int) {
	d.ltr.OnFrameAck(ltrIndex)
}

// OnClientInput records the timestamp of the most recently replayed
// input event, echoed into the next Video frame header for RTT
// measurement (spec.md §4.7 step 7).
func (d *Driver) OnClientInput(timestampUs int64) {
	d.mu.Lock()
	d.lastClientInputTimestampUs = timestampUs
	d.mu.Unlock()
}

// Tick runs one iteration of the capture/encode/send loop (spec.md
// §4.7 steps 1–7). Callers invoke this from a dedicated goroutine in a
// loop, typically driven by capture availability rather than a fixed
// timer.
func (d *Driver) Tick() error {
	d.mu.Lock()
	if !d.clientActive || d.width == 0 || d.height == 0 {
		d.mu.Unlock()
		return nil // nothing to capture yet
	}

	if d.updateDevice {
		if err := d.capture.Reconfigure(d.width, d.height); err != nil {
			d.mu.Unlock()
			return err
		}
		d.updateDevice = false
		d.updateEncoder = true
	}

	settings := d.cc.Current()
	if d.diffRequiresReconfigure(settings) {
		d.updateEncoder = true
	}

	videoBitrate := (settings.BitrateBps - int64(NumPrevAudioFramesResend+1)*AudioBitrateBps) *
		int64(100-int(settings.VideoFECRatio*100)) / 100
	if videoBitrate <= 0 {
		videoBitrate = settings.BitrateBps / 2 // degrade rather than assert-fail at runtime
		if d.log != nil {
			d.log.Warnf("encoderdrv: computed non-positive video bitrate, falling back to %d", videoBitrate)
		}
	}

	if d.updateEncoder {
		vbv := settings.VBVSize()
		if err := d.encoder.Reconfigure(d.width, d.height, videoBitrate, vbv, settings.DesiredCodec); err != nil {
			if d.log != nil {
				d.log.Warnf("encoderdrv: in-place reconfigure failed, caller should rebuild encoder: %v", err)
			}
		}
		d.updateEncoder = false
	}

	decision := d.ltr.Next(d.streamNeedsRestart, d.streamNeedsRecovery)
	d.streamNeedsRestart = false
	d.streamNeedsRecovery = false

	switch decision.Action {
	case ltr.ActionIntra:
		d.encoder.SetIFrame()
	case ltr.ActionCreateLongTerm:
		slot := d.ltr.NextCreateSlot()
		d.encoder.SetLTRAction(int(decision.Action), slot)
	case ltr.ActionReferLongTerm:
		d.encoder.SetLTRAction(int(decision.Action), decision.Index)
	}

	clientInputTs := d.lastClientInputTimestampUs
	d.mu.Unlock()

	return d.captureAndSend(decision, clientInputTs)
}

// diffRequiresReconfigure reports whether {bitrate, codec, fps} changed
// since the last reconfigure, per spec.md §4.7 step 4's diff-and-flag
// rule. Must be called with d.mu held.
func (d *Driver) diffRequiresReconfigure(settings wire.NetworkSettings) bool {
	if !d.haveLastSettings {
		d.lastReportedSettings = settings
		d.haveLastSettings = true
		return true
	}
	changed := settings.BitrateBps != d.lastReportedSettings.BitrateBps ||
		settings.DesiredCodec != d.lastReportedSettings.DesiredCodec ||
		settings.FPS != d.lastReportedSettings.FPS
	d.lastReportedSettings = settings
	return changed
}

func (d *Driver) captureAndSend(decision ltr.Decision, clientInputTs int64) error {
	frames, err := d.capture.Capture()
	if err != nil {
		return err
	}

	d.mu.Lock()
	minFPSPeriod := time.Second / time.Duration(wire.MinFPS)
	now := time.Now()

	if len(frames) == 0 {
		emptyPeriod := minFPSPeriod
		if d.encoderDisabled {
			emptyPeriod = time.Second / DisabledEncoderFPS
		}
		if now.Sub(d.lastEmptyFrameAt) > emptyPeriod {
			d.lastEmptyFrameAt = now
			header := d.emptyFrameHeaderLocked(clientInputTs)
			d.mu.Unlock()
			return d.send(header, false)
		}
		d.mu.Unlock()
		return nil
	}

	d.identicalFrameCount += len(frames) - 1 // only the last frame in the batch is genuinely new work
	if d.identicalFrameCount > ConsecutiveIdenticalFrames && decision.Action == ltr.ActionNormal {
		d.encoderDisabled = true
	} else if decision.Action != ltr.ActionNormal {
		d.encoderDisabled = false
		d.identicalFrameCount = 0
	}

	if d.encoderDisabled {
		if now.Sub(d.lastEmptyFrameAt) < time.Second/DisabledEncoderFPS {
			d.mu.Unlock()
			return nil
		}
		d.lastEmptyFrameAt = now
		header := d.emptyFrameHeaderLocked(clientInputTs)
		d.mu.Unlock()
		return d.send(header, false)
	}
	d.mu.Unlock()

	latest := frames[len(frames)-1]
	result, err := d.encoder.Encode(latest)
	if err != nil {
		return err
	}

	d.mu.Lock()
	resampleCorner := decision.Action == ltr.ActionIntra || now.Sub(d.lastCornerSampleAt) > cornerResampleInterval
	var corner wire.RGB
	if resampleCorner {
		corner = latest.CornerColor
		d.lastCornerSampleAt = now
	}
	isStreamStart := d.lastFrameType == 0 && decision.Action == ltr.ActionNormal
	d.lastFrameType = result.FrameType
	d.mu.Unlock()

	header := wire.VideoFrameHeader{
		Width:                  int32(latest.Width),
		Height:                 int32(latest.Height),
		FrameType:              result.FrameType,
		CornerColor:            corner,
		ServerTimestampUs:      latest.CaptureTimestampUs,
		ClientInputTimestampUs: clientInputTs,
		VideoData:              flattenPackets(result.Packets),
	}
	return d.send(header, isStreamStart)
}

// emptyFrameHeaderLocked builds a heartbeat frame carrying no image
// payload (spec.md §4.7 step 6, GLOSSARY "Empty frame"). Must be called
// with d.mu held.
func (d *Driver) emptyFrameHeaderLocked(clientInputTs int64) wire.VideoFrameHeader {
	return wire.VideoFrameHeader{
		Width:                  int32(d.width),
		Height:                 int32(d.height),
		FrameType:              wire.FrameNormal,
		ServerTimestampUs:      time.Now().UnixMicro(),
		ClientInputTimestampUs: clientInputTs,
	}
}

func flattenPackets(packets []iface.EncodedPacket) []byte {
	total := 0
	for _, p := range packets {
		total += len(p.Data)
	}
	out := make([]byte, 0, total)
	for _, p := range packets {
		out = append(out, p.Data...)
	}
	return out
}
