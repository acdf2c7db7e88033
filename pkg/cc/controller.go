// Package cc implements the congestion controller described in spec.md
// §4.6: it turns loss fraction, delay-gradient, RTT, and incoming
// bitrate observations sampled once per control interval into the
// wire.NetworkSettings snapshot the sender paces against.
package cc

import (
	"sync"
	"time"

	"github.com/streamcore/streamcore/pkg/wire"
)

// Tunables from spec.md §4.6 and §9.
const (
	// ControlInterval is the nominal sampling period between settings
	// updates.
	ControlInterval = 500 * time.Millisecond

	// LossThreshold is the fraction of packets_nacked/packets_received
	// above which bitrate backs off rather than growing. spec.md leaves
	// the exact value to implementers; 2% matches the reference
	// protocol's default "target loss" setpoint (see DESIGN.md).
	LossThreshold = 0.02

	// GrowthFactor and BackoffFactor govern the multiplicative-increase /
	// multiplicative-decrease bitrate adjustment per control interval.
	GrowthFactor  = 1.05
	BackoffFactor = 0.85

	// NumGradientFramesTracked bounds the running delay-gradient window
	// (spec.md §4.6).
	NumGradientFramesTracked = 30

	// BitrateEWMAAlpha is the original's fixed decay constant for the
	// incoming-bitrate estimator (SPEC_FULL.md's supplemented feature).
	BitrateEWMAAlpha = 0.1

	minBitrateBps = 500_000
	maxBitrateBps = 50_000_000
)

// Observation is one control-interval sample fed to the controller.
type Observation struct {
	PacketsNacked   uint64
	PacketsReceived uint64
	RTT             time.Duration
	// IncomingBytes is the sum of payload bytes received this interval,
	// used to update the bitrate EWMA.
	IncomingBytes int64
}

// FrameTiming lets the controller accumulate the delay-gradient running
// statistics as each frame becomes ready (spec.md §4.6).
type FrameTiming struct {
	ReadyAt           time.Time
	CaptureTimestampUs int64
}

// Controller produces wire.NetworkSettings snapshots from accumulated
// observations. All exported methods are safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	settings wire.NetworkSettings

	bitrateEstimator float64 // EWMA of incoming bytes/sec
	haveEstimate     bool

	gradientSum   float64
	gradientSqSum float64
	gradientCount int

	prevReadyAt    time.Time
	prevCaptureUs  int64
	haveFrameTimer bool

	probingUp bool

	// lastReported holds the settings as of the last Sample call, the
	// baseline Sample diffs against to decide update_encoder — distinct
	// from settings itself so an external SetCodec/SetFPS between
	// samples is still detected as a change rather than being silently
	// absorbed into the "previous" value.
	lastReported     wire.NetworkSettings
	haveLastReported bool
}

// New creates a controller seeded with an initial bitrate and fps.
func New(initialBitrateBps int64, fps int, codec wire.Codec) *Controller {
	c := &Controller{}
	c.settings = wire.NetworkSettings{
		BitrateBps:      initialBitrateBps,
		BurstBitrateBps: int64(float64(initialBitrateBps) * wire.BurstRatio),
		AudioFECRatio:   0,
		VideoFECRatio:   0,
		DesiredCodec:    codec,
		FPS:             fps,
	}
	return c
}

// OnFrameReady folds one frame's ready/capture timestamps into the
// delay-gradient running statistics.
func (c *Controller) OnFrameReady(t FrameTiming) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.haveFrameTimer {
		c.prevReadyAt = t.ReadyAt
		c.prevCaptureUs = t.CaptureTimestampUs
		c.haveFrameTimer = true
		return
	}

	renderDelta := t.ReadyAt.Sub(c.prevReadyAt).Seconds() * 1e6
	captureDelta := float64(t.CaptureTimestampUs - c.prevCaptureUs)
	gradient := renderDelta - captureDelta

	c.gradientSum += gradient
	c.gradientSqSum += gradient * gradient
	c.gradientCount++
	if c.gradientCount > NumGradientFramesTracked {
		// Keep a bounded running window by decaying rather than storing
		// every sample: fold out an equal share of the mean so the sum
		// reflects roughly the last NumGradientFramesTracked frames.
		mean := c.gradientSum / float64(c.gradientCount)
		c.gradientSum -= mean
		c.gradientCount--
	}

	c.prevReadyAt = t.ReadyAt
	c.prevCaptureUs = t.CaptureTimestampUs
}

func (c *Controller) meanGradient() float64 {
	if c.gradientCount == 0 {
		return 0
	}
	return c.gradientSum / float64(c.gradientCount)
}

// Sample folds one control-interval Observation into the controller's
// state and returns the updated NetworkSettings plus whether the
// encoder must be reconfigured (bitrate, codec, or fps changed).
func (c *Controller) Sample(obs Observation) (wire.NetworkSettings, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.lastReported
	havePrev := c.haveLastReported

	c.updateBitrateEstimate(obs)

	lossFraction := 0.0
	if obs.PacketsReceived > 0 {
		lossFraction = float64(obs.PacketsNacked) / float64(obs.PacketsReceived)
	}
	gradient := c.meanGradient()

	bitrate := float64(c.settings.BitrateBps)
	saturate := false
	switch {
	case lossFraction > LossThreshold || gradient > 0:
		bitrate *= BackoffFactor
		c.probingUp = false
	case lossFraction < LossThreshold && gradient <= 0:
		bitrate *= GrowthFactor
		c.probingUp = true
		saturate = true
	}
	if c.haveEstimate && bitrate > c.bitrateEstimator*1.2 {
		// Do not grow far past what is actually arriving; this caps
		// runaway growth when loss samples lag a real capacity ceiling.
		bitrate = c.bitrateEstimator * 1.2
	}
	if bitrate < minBitrateBps {
		bitrate = minBitrateBps
	}
	if bitrate > maxBitrateBps {
		bitrate = maxBitrateBps
	}

	c.settings.BitrateBps = int64(bitrate)
	c.settings.BurstBitrateBps = int64(bitrate * wire.BurstRatio)
	c.settings.SaturateBandwidth = saturate

	c.settings.VideoFECRatio = fecRatioFor(lossFraction, c.probingUp)
	c.settings.AudioFECRatio = fecRatioFor(lossFraction, false)

	changed := !havePrev ||
		c.settings.BitrateBps != prev.BitrateBps ||
		c.settings.FPS != prev.FPS ||
		c.settings.DesiredCodec != prev.DesiredCodec

	c.lastReported = c.settings.Clone()
	c.haveLastReported = true

	return c.settings.Clone(), changed
}

// fecRatioFor derives video_fec_ratio's base+extra split: base covers
// expected losses plus a safety margin; an extra term is added while
// probing bandwidth upward so a probe's own losses don't starve
// recovery (spec.md §4.6 distinguishes base/extra/original/final).
func fecRatioFor(lossFraction float64, probingUp bool) float64 {
	const safetyMargin = 0.02
	base := lossFraction + safetyMargin
	extra := 0.0
	if probingUp {
		extra = 0.03
	}
	total := base + extra
	if total > 0.5 {
		total = 0.5
	}
	return total
}

func (c *Controller) updateBitrateEstimate(obs Observation) {
	if obs.IncomingBytes <= 0 {
		return
	}
	instBps := float64(obs.IncomingBytes) * 8 / ControlInterval.Seconds()
	if !c.haveEstimate {
		c.bitrateEstimator = instBps
		c.haveEstimate = true
		return
	}
	c.bitrateEstimator = BitrateEWMAAlpha*instBps + (1-BitrateEWMAAlpha)*c.bitrateEstimator
}

// SetCodec forces a codec change on the next Sample, used when the
// client explicitly requests a different decoder capability.
func (c *Controller) SetCodec(codec wire.Codec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.DesiredCodec = codec
}

// SetFPS forces a frame-rate change on the next Sample, clamped to
// spec.md §5.1's [MinFPS, MaxFPS] range.
func (c *Controller) SetFPS(fps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fps < wire.MinFPS {
		fps = wire.MinFPS
	}
	if fps > wire.MaxFPS {
		fps = wire.MaxFPS
	}
	c.settings.FPS = fps
}

// Current returns a snapshot of the latest NetworkSettings without
// folding in a new observation.
func (c *Controller) Current() wire.NetworkSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Clone()
}

// VBVSize returns the encoder rate-control window in bytes for the
// controller's current bitrate, per spec.md §4.6.
func (c *Controller) VBVSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.VBVSize()
}
