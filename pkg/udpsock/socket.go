// Package udpsock implements the UDP socket context of spec.md §4.1:
// fragmentation, per-packet encryption and FEC, send-side pacing, and
// recv-side demultiplexing of Packets into per-stream ring buffers.
package udpsock

import (
	"context"
	"errors"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamcore/streamcore/pkg/crypto"
	"github.com/streamcore/streamcore/pkg/errkind"
	"github.com/streamcore/streamcore/pkg/errmon"
	"github.com/streamcore/streamcore/pkg/fec"
	"github.com/streamcore/streamcore/pkg/logging"
	"github.com/streamcore/streamcore/pkg/ring"
	"github.com/streamcore/streamcore/pkg/throttle"
	"github.com/streamcore/streamcore/pkg/wire"
)

// Keepalive timing from spec.md §4.1.
const (
	PingInterval                 = 2 * time.Second
	PingMaxWaitSec                = 5
	PingMaxReconnectionTimeSec    = 3 * time.Second
	recvBufferSize                = 2048
)

var ErrConnectionLost = errors.New("udpsock: connection lost")

// Socket is one peer's UDP socket context.
type Socket struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	crypt  *crypto.Context
	thr    *throttle.Throttler
	log    *logging.Logger
	mon    *errmon.Monitor

	buffers map[wire.StreamType]*ring.Buffer

	settings atomic.Value // wire.NetworkSettings

	onMessage func(wire.Message)

	lastPingID uint32
	lastPongID uint32
	lastPongAt atomic.Value // time.Time

	connLost atomic.Bool

	packetsSent, packetsRecv   uint64
	bytesSent, bytesRecv       uint64
	statsMu                    sync.Mutex

	lastFrame   roundRobinFrame
	lastFrameMu sync.Mutex
}

// roundRobinFrame remembers the most recently sent frame's fragments so
// send_packet can re-emit them when saturate_bandwidth is set and
// nothing new is queued (spec.md §4.1).
type roundRobinFrame struct {
	stream   wire.StreamType
	frameID  uint32
	packets  [][]byte // marshaled plaintext packets, ready to re-encrypt
	rrCursor int
}

// New builds a Socket bound to conn for communication with remote,
// authenticated by key, pacing egress through thr, and demultiplexing
// inbound packets into buffers (keyed by stream type).
func New(conn *net.UDPConn, remote *net.UDPAddr, crypt *crypto.Context, thr *throttle.Throttler,
	buffers map[wire.StreamType]*ring.Buffer, log *logging.Logger, mon *errmon.Monitor) *Socket {
	s := &Socket{
		conn:    conn,
		remote:  remote,
		crypt:   crypt,
		thr:     thr,
		buffers: buffers,
		log:     log,
		mon:     mon,
	}
	s.settings.Store(wire.NetworkSettings{BitrateBps: 8_000_000, BurstBitrateBps: 16_000_000, FPS: 60, DesiredCodec: wire.CodecH264})
	s.lastPongAt.Store(time.Now())
	return s
}

// OnMessage registers the callback invoked for every reassembled
// Message-stream packet (input events, NACKs, pings, control messages).
func (s *Socket) OnMessage(fn func(wire.Message)) { s.onMessage = fn }

// UpdateSettings atomically replaces the negotiated NetworkSettings the
// sender paces against, read fresh before each frame per spec.md §3.
func (s *Socket) UpdateSettings(settings wire.NetworkSettings) {
	s.settings.Store(settings)
	s.thr.UpdateLimits(throttle.Limits{BitrateBps: settings.BitrateBps, BurstBitrateBps: settings.BurstBitrateBps})
}

// CurrentSettings returns the sender's current operating point.
func (s *Socket) CurrentSettings() wire.NetworkSettings {
	return s.settings.Load().(wire.NetworkSettings)
}

// SendPacket fragments payload into original + FEC indices, encrypts
// and paces each, and remembers the frame for saturate_bandwidth
// re-emission (spec.md §4.1's send contract).
func (s *Socket) SendPacket(ctx context.Context, stream wire.StreamType, payload []byte, frameID uint32, isStreamStart bool, fecRatio float64) error {
	numOriginal := (len(payload) + wire.MaxPayloadSize - 1) / wire.MaxPayloadSize
	if numOriginal == 0 {
		numOriginal = 1
	}
	numFEC := int(math.Round(float64(numOriginal) * fecRatio))

	originals := make([][]byte, numOriginal)
	for i := 0; i < numOriginal; i++ {
		start := i * wire.MaxPayloadSize
		end := start + wire.MaxPayloadSize
		if end > len(payload) {
			end = len(payload)
		}
		shard := make([]byte, wire.MaxPayloadSize)
		copy(shard, payload[start:end])
		originals[i] = shard
	}

	var parity [][]byte
	if numFEC > 0 {
		codec, err := fec.NewFrameCodec(numOriginal, numFEC, wire.MaxPayloadSize)
		if err != nil {
			return err
		}
		parity, err = codec.Encode(originals)
		if err != nil {
			return err
		}
	}

	plaintexts := make([][]byte, 0, numOriginal+numFEC)
	for i, shard := range originals {
		size := wire.MaxPayloadSize
		if i == numOriginal-1 {
			size = len(payload) - i*wire.MaxPayloadSize
			if size <= 0 || size > wire.MaxPayloadSize {
				size = wire.MaxPayloadSize
			}
		}
		pkt := &wire.Packet{
			StreamType:    stream,
			IsStreamStart: isStreamStart && i == 0,
			FrameID:       frameID,
			Index:         uint16(i),
			NumIndices:    uint16(numOriginal + numFEC),
			NumFECIndices: uint16(numFEC),
			Payload:       shard[:size],
		}
		plaintexts = append(plaintexts, pkt.Marshal())
	}
	for i, shard := range parity {
		pkt := &wire.Packet{
			StreamType:    stream,
			FrameID:       frameID,
			Index:         uint16(numOriginal + i),
			NumIndices:    uint16(numOriginal + numFEC),
			NumFECIndices: uint16(numFEC),
			Payload:       shard,
		}
		plaintexts = append(plaintexts, pkt.Marshal())
	}

	for _, pt := range plaintexts {
		if err := s.emit(ctx, pt); err != nil {
			return err
		}
	}

	s.lastFrameMu.Lock()
	s.lastFrame = roundRobinFrame{stream: stream, frameID: frameID, packets: plaintexts}
	s.lastFrameMu.Unlock()

	return nil
}

// SendIdle re-emits one fragment of the most recently sent frame,
// round-robin, to consume leftover pacing budget when
// saturate_bandwidth is set and nothing new is queued.
func (s *Socket) SendIdle(ctx context.Context) error {
	s.lastFrameMu.Lock()
	if len(s.lastFrame.packets) == 0 {
		s.lastFrameMu.Unlock()
		return nil
	}
	pt := s.lastFrame.packets[s.lastFrame.rrCursor%len(s.lastFrame.packets)]
	s.lastFrame.rrCursor++
	s.lastFrameMu.Unlock()

	pkt, err := wire.Unmarshal(pt)
	if err != nil {
		return err
	}
	pkt.IsNackResponse = true
	return s.emit(ctx, pkt.Marshal())
}

func (s *Socket) emit(ctx context.Context, plaintext []byte) error {
	if err := s.thr.WaitBytes(ctx, len(plaintext)); err != nil {
		return err
	}
	env, err := s.crypt.SealUDP(plaintext)
	if err != nil {
		return err
	}
	wireBytes := env.Marshal()
	n, err := s.conn.WriteToUDP(wireBytes, s.remote)
	if err != nil {
		return err
	}
	s.statsMu.Lock()
	s.packetsSent++
	s.bytesSent += uint64(n)
	s.statsMu.Unlock()
	return nil
}

// SendMessage encodes and sends one control Message on the Message
// stream, unfragmented (control messages are small by construction).
func (s *Socket) SendMessage(ctx context.Context, msg wire.Message) error {
	body, err := wire.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return s.SendPacket(ctx, wire.StreamMessage, body, s.nextMessageFrameID(), false, 0)
}

var messageFrameIDCounter uint32

func (s *Socket) nextMessageFrameID() uint32 {
	return atomic.AddUint32(&messageFrameIDCounter, 1)
}

// RecvLoop runs the single recv worker of spec.md §4.1 until ctx is
// cancelled or the connection is declared lost. Individual packet
// errors are counted and dropped; socket-level errors and a keepalive
// timeout mark the context lost and return ErrConnectionLost.
func (s *Socket) RecvLoop(ctx context.Context) error {
	buf := make([]byte, recvBufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if s.checkKeepaliveTimeout() {
					s.connLost.Store(true)
					return ErrConnectionLost
				}
				continue
			}
			s.report(errkind.TransientNetwork, err)
			s.connLost.Store(true)
			return ErrConnectionLost
		}
		if addr != nil && s.remote != nil && !addr.IP.Equal(s.remote.IP) {
			continue // not our peer
		}

		s.handleInbound(buf[:n])
	}
}

func (s *Socket) handleInbound(data []byte) {
	env, err := wire.UnmarshalUDPEnvelope(data)
	if err != nil {
		s.report(errkind.PacketCorruption, err)
		return
	}
	plaintext, err := s.crypt.OpenUDP(env)
	if err != nil {
		s.report(errkind.PacketCorruption, err)
		return
	}
	pkt, err := wire.Unmarshal(plaintext)
	if err != nil {
		s.report(errkind.PacketCorruption, err)
		return
	}

	s.statsMu.Lock()
	s.packetsRecv++
	s.bytesRecv += uint64(len(data))
	s.statsMu.Unlock()

	buf, ok := s.buffers[pkt.StreamType]
	if !ok {
		return
	}
	if _, err := buf.Accept(pkt); err != nil && !errors.Is(err, ring.ErrGenuineDuplicate) {
		s.report(errkind.PacketCorruption, err)
	}

	if pkt.StreamType == wire.StreamMessage {
		s.drainMessages(buf)
	}
}

// drainMessages decodes and dispatches every Message-stream frame that
// has become ready since the last drain.
func (s *Socket) drainMessages(buf *ring.Buffer) {
	for {
		frameID, payload, ok := buf.NextReady()
		if !ok {
			return
		}
		msg, err := wire.DecodeMessage(payload)
		buf.CommitRendered(frameID)
		if err != nil {
			s.report(errkind.PacketCorruption, err)
			continue
		}
		s.dispatchControl(msg)
		if s.onMessage != nil {
			s.onMessage(msg)
		}
	}
}

// dispatchControl handles ping/pong bookkeeping inline so keepalive
// works even if the caller never wires OnMessage.
func (s *Socket) dispatchControl(msg wire.Message) {
	switch msg.Kind {
	case wire.MsgPong:
		if pong, ok := msg.Body.(wire.Pong); ok {
			if pong.ID > s.lastPongID {
				s.lastPongID = pong.ID
			}
			s.lastPongAt.Store(time.Now())
		}
	}
}

// SendPing emits a PING control message and advances the ping cursor,
// per spec.md §4.1's "client emits PING{id} every 2s" keepalive.
func (s *Socket) SendPing(ctx context.Context) error {
	s.lastPingID++
	return s.SendMessage(ctx, wire.Message{Kind: wire.MsgPing, Body: wire.Ping{ID: s.lastPingID}})
}

// checkKeepaliveTimeout reports whether the peer has gone quiet for
// longer than PingMaxWaitSec, per spec.md's
// "last_pong_id < last_ping_id - floor(MAX_WAIT/INTERVAL)" rule.
func (s *Socket) checkKeepaliveTimeout() bool {
	maxMissed := uint32(PingMaxWaitSec / int(PingInterval.Seconds()))
	if s.lastPingID <= maxMissed {
		return false
	}
	return s.lastPongID < s.lastPingID-maxMissed
}

// IsConnectionLost reports whether RecvLoop has declared the peer lost.
func (s *Socket) IsConnectionLost() bool { return s.connLost.Load() }

func (s *Socket) report(kind errkind.Kind, err error) {
	if s.mon != nil {
		s.mon.ReportError(kind, err)
	} else if s.log != nil {
		s.log.Warnf("%s: %v", kind, err)
	}
}

// Stats returns a snapshot of packet/byte counters for metrics export.
func (s *Socket) Stats() (packetsSent, packetsRecv, bytesSent, bytesRecv uint64) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.packetsSent, s.packetsRecv, s.bytesSent, s.bytesRecv
}
