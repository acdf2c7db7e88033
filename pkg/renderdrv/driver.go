// Package renderdrv implements the client renderer driver of spec.md
// §4.8: selection of which ready frame to render, adaptive skip-ahead
// when an old frame is stuck missing, and stream-reset escalation when
// no progress is being made at all.
package renderdrv

import (
	"sync"
	"time"

	"github.com/streamcore/streamcore/pkg/logging"
	"github.com/streamcore/streamcore/pkg/ring"
	"github.com/streamcore/streamcore/pkg/wire"
)

// Present pushes one decoded-ready frame's payload to the display (or
// the audio device, for the audio pipeline); renderdrv itself does not
// decode, matching the "opaque encoder/decoder" boundary of spec.md §1.
type Present func(frameID uint32, payload []byte) error

// RequestRecovery asks the server for a recovery-class frame once a
// skip has been decided for the video stream (spec.md §4.8's
// "request recovery" step, served by the server's LTR/I-frame logic
// in pkg/encoderdrv).
type RequestRecovery func()

// SendStreamReset emits a StreamReset control message to the server
// (spec.md §4.8's "stream reset" escalation).
type SendStreamReset func(msg wire.StreamReset) error

const (
	// skipGraceBase is the minimum time ids a+1..b-1 must have been
	// missing before the driver skips ahead to a ready id b, rather
	// than continuing to wait for retransmission/FEC (spec.md §4.8's
	// "adaptive skip threshold" — chosen as an Open Question decision,
	// scaled by how many ids are being skipped; see DESIGN.md).
	skipGraceBase = 40 * time.Millisecond

	// noProgressResetThreshold is how long the driver waits with the
	// greatest-failed-id unchanged before escalating to a StreamReset
	// (spec.md §4.8's "stream reset" rule).
	noProgressResetThreshold = 500 * time.Millisecond
)

// Driver runs one stream's (video or audio) selection/pacing/skip
// logic against its ring buffer.
type Driver struct {
	mu sync.Mutex

	buf             *ring.Buffer
	present         Present
	requestRecovery RequestRecovery
	sendReset       SendStreamReset
	log             *logging.Logger
	isVideo         bool

	firstMissingAt map[uint32]time.Time

	greatestFailedID    uint32
	lastProgressAt      time.Time
	lastResetSentFor    uint32
	haveSentResetForID  bool

	audioQueueFull func() bool // nil for the video pipeline
}

// New builds a Driver for one stream's ring buffer. isVideo selects
// whether a skip requests recovery (video only, per spec.md §4.8).
func New(buf *ring.Buffer, present Present, requestRecovery RequestRecovery, sendReset SendStreamReset, isVideo bool, log *logging.Logger) *Driver {
	return &Driver{
		buf:             buf,
		present:         present,
		requestRecovery: requestRecovery,
		sendReset:       sendReset,
		isVideo:         isVideo,
		log:             log,
		firstMissingAt:  make(map[uint32]time.Time),
		lastProgressAt:  time.Now(),
	}
}

// SetAudioQueueFullCheck wires an audio-device queue probe; when it
// reports full, TryRender drops the pending frame instead of stalling
// (spec.md §4.8's "audio peculiarity").
func (d *Driver) SetAudioQueueFullCheck(fn func() bool) {
	d.audioQueueFull = fn
}

// TryRender is the selection/pacing entry point, meant to be called at
// least every display refresh (spec.md §4.8's "pacing" step — the
// "internal helper thread after 2ms stall" fallback is the caller's
// responsibility: it should invoke TryRender from a timer goroutine
// whenever the primary render loop has not called it recently).
func (d *Driver) TryRender() (rendered bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	lastRendered, payload, skip, skipFrom, err := d.selectLocked()
	if err != nil {
		return false, err
	}
	if !skip && payload == nil {
		d.maybeEscalateLocked()
		return false, nil
	}

	if d.audioQueueFull != nil && d.audioQueueFull() {
		d.buf.CommitRendered(lastRendered)
		return false, nil
	}

	if skip {
		if d.log != nil {
			d.log.Warnf("renderdrv: skipping %d..%d, rendering %d", skipFrom, lastRendered-1, lastRendered)
		}
		if d.isVideo && d.requestRecovery != nil {
			d.requestRecovery()
		}
	}

	if err := d.present(lastRendered, payload); err != nil {
		return false, err
	}
	d.buf.CommitRendered(lastRendered)
	d.lastProgressAt = time.Now()
	delete(d.firstMissingAt, lastRendered)
	// The next id is due from this render on: if it is not ready yet,
	// its absence is timed from now.
	if next := lastRendered + 1; !d.buf.Ready(next) {
		if _, tracked := d.firstMissingAt[next]; !tracked {
			d.firstMissingAt[next] = time.Now()
		}
	}
	return true, nil
}

// selectLocked implements spec.md §4.8's selection rule: render the
// lowest id > last_rendered_id that is ready; if none is ready but a
// higher id is, and the gap has aged past the skip grace period, skip
// to it. Must be called with d.mu held.
func (d *Driver) selectLocked() (frameID uint32, payload []byte, skip bool, skipFrom uint32, err error) {
	nextReadyID, _, haveReady := d.buf.NextReady()
	if !haveReady {
		return 0, nil, false, 0, nil
	}

	lastRendered, haveLast := d.buf.LastRenderedID()
	immediateNext := !haveLast || nextReadyID == lastRendered+1
	if immediateNext {
		payload, ok := d.buf.SetRendering(nextReadyID)
		if !ok {
			return 0, nil, false, 0, nil
		}
		return nextReadyID, payload, false, 0, nil
	}

	// nextReadyID skips over lastRendered+1..nextReadyID-1: only take
	// it once that gap has been missing longer than its grace period.
	gapStart := lastRendered + 1
	first, tracked := d.firstMissingAt[gapStart]
	if !tracked {
		d.firstMissingAt[gapStart] = time.Now()
		return 0, nil, false, 0, nil
	}
	gap := nextReadyID - gapStart
	if time.Since(first) < skipGraceFor(gap) {
		return 0, nil, false, 0, nil
	}

	payload, ok := d.buf.SetRendering(nextReadyID)
	if !ok {
		return 0, nil, false, 0, nil
	}
	delete(d.firstMissingAt, gapStart)
	return nextReadyID, payload, true, gapStart, nil
}

// maybeEscalateLocked emits a StreamReset once no rendering progress
// has been made for noProgressResetThreshold, per spec.md §4.8. Must be
// called with d.mu held.
func (d *Driver) maybeEscalateLocked() {
	if time.Since(d.lastProgressAt) < noProgressResetThreshold {
		return
	}
	highest, ok := d.buf.HighestSeen()
	if !ok || (d.haveSentResetForID && highest == d.lastResetSentFor) {
		return
	}
	if d.sendReset != nil {
		_ = d.sendReset(wire.StreamReset{Stream: d.buf.StreamType(), GreatestFailedID: highest})
	}
	d.lastResetSentFor = highest
	d.haveSentResetForID = true
	d.lastProgressAt = time.Now()
}

// skipGraceFor scales the skip grace period by how many ids are being
// jumped: skipGraceBase plus 5ms per missing id, so a larger gap is
// waited on longer than a one-frame gap.
func skipGraceFor(gap uint32) time.Duration {
	if gap == 0 {
		gap = 1
	}
	return skipGraceBase + time.Duration(gap)*5*time.Millisecond
}
