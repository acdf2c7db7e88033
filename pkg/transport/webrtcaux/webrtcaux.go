// Package webrtcaux provides an auxiliary transport for the TCP
// socket context's framed payloads (spec.md §4.2) when a peer sits
// behind a NAT that blocks the direct UDP/TCP association: a single
// ordered, reliable WebRTC DataChannel exposed through an
// io.ReadWriteCloser adapter (Conn). The adapter is not a net.Conn, so
// tcpsock.New, which takes a net.Conn, cannot be given it directly.
package webrtcaux

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/streamcore/streamcore/pkg/logging"
)

// ErrClosed is returned by Read/Write once the underlying data channel
// or peer connection has gone away.
var ErrClosed = errors.New("webrtcaux: connection closed")

// Manager owns the WebRTC peer connections used purely as an auxiliary
// TCP carrier; it does not touch audio/video tracks, which spec.md's
// core transport (pkg/udpsock) already carries.
type Manager struct {
	mu          sync.Mutex
	api         *webrtc.API
	config      webrtc.Configuration
	log         *logging.Logger
	connections map[string]*PeerConnection
}

// NewManager builds a Manager using iceServers for STUN/TURN discovery.
func NewManager(iceServers []string, log *logging.Logger) (*Manager, error) {
	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, url := range iceServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	api := webrtc.NewAPI()
	return &Manager{
		api:         api,
		config:      webrtc.Configuration{ICEServers: servers},
		log:         log,
		connections: make(map[string]*PeerConnection),
	}, nil
}

// CreatePeerConnection opens a new auxiliary peer connection for
// peerID. The side that will send the SDP offer must also call
// CreateAuxChannel before negotiating; the answering side picks up
// the resulting channel automatically via OnDataChannel.
func (m *Manager) CreatePeerConnection(peerID string) (*PeerConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, err := m.api.NewPeerConnection(m.config)
	if err != nil {
		return nil, fmt.Errorf("webrtcaux: new peer connection: %w", err)
	}

	conn := &PeerConnection{id: peerID, pc: pc, log: m.log}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		conn.bindDataChannel(dc)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if m.log != nil {
			m.log.Infof("webrtcaux: peer %s connection state %s", peerID, state)
		}
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			m.RemovePeerConnection(peerID)
		}
	})

	m.connections[peerID] = conn
	return conn, nil
}

// GetPeerConnection looks up an existing peer connection.
func (m *Manager) GetPeerConnection(peerID string) *PeerConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connections[peerID]
}

// RemovePeerConnection closes and forgets a peer connection.
func (m *Manager) RemovePeerConnection(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.connections[peerID]; ok {
		conn.Close()
		delete(m.connections, peerID)
	}
}

// CloseAll tears down every auxiliary connection.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, conn := range m.connections {
		conn.Close()
		delete(m.connections, id)
	}
}

// PeerConnection wraps one WebRTC peer connection carrying the
// auxiliary TCP data channel.
type PeerConnection struct {
	id  string
	pc  *webrtc.PeerConnection
	log *logging.Logger

	mu   sync.Mutex
	dc   *webrtc.DataChannel
	conn *Conn
}

func (p *PeerConnection) bindDataChannel(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.conn = newConn(dc)
	p.mu.Unlock()

	dc.OnOpen(func() { p.conn.markOpen() })
	dc.OnClose(func() { p.conn.Close() })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { p.conn.deliver(msg.Data) })
}

// CreateAuxChannel proactively creates the "tcp-aux" data channel.
// Call this only on the side that will send the SDP offer; the
// answering side receives the matching channel through OnDataChannel
// instead and must not call this.
func (p *PeerConnection) CreateAuxChannel() error {
	ordered := true
	dc, err := p.pc.CreateDataChannel("tcp-aux", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("webrtcaux: create data channel: %w", err)
	}
	p.bindDataChannel(dc)
	return nil
}

// Aux returns the data channel's io.ReadWriteCloser adapter. It returns
// nil until the data channel has been created (offering side) or
// received (answering side).
func (p *PeerConnection) Aux() io.ReadWriteCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.conn
}

// CreateOffer creates and sets a local SDP offer, waiting for ICE
// gathering to complete before returning it.
func (p *PeerConnection) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	<-webrtc.GatheringCompletePromise(p.pc)
	return p.pc.LocalDescription().SDP, nil
}

// HandleOffer sets the remote offer and returns a local answer SDP.
func (p *PeerConnection) HandleOffer(offerSDP string) (string, error) {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return "", err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	<-webrtc.GatheringCompletePromise(p.pc)
	return p.pc.LocalDescription().SDP, nil
}

// HandleAnswer applies a remote answer SDP.
func (p *PeerConnection) HandleAnswer(answerSDP string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP})
}

// AddICECandidate applies a trickled remote ICE candidate.
func (p *PeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// OnICECandidate registers a callback fired with each locally
// gathered ICE candidate.
func (p *PeerConnection) OnICECandidate(fn func(candidate webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			fn(c.ToJSON())
		}
	})
}

// Close tears down the peer connection and its data channel adapter.
func (p *PeerConnection) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return p.pc.Close()
}

// Conn adapts a single WebRTC DataChannel into an io.ReadWriteCloser,
// buffering inbound messages so Read can be called with arbitrarily
// small slices regardless of DataChannelMessage boundaries.
type Conn struct {
	dc *webrtc.DataChannel

	mu     sync.Mutex
	opened bool
	queued [][]byte
	cond   *sync.Cond

	closed   bool
	closeErr error
}

func newConn(dc *webrtc.DataChannel) *Conn {
	c := &Conn{dc: dc}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Conn) markOpen() {
	c.mu.Lock()
	c.opened = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Conn) deliver(data []byte) {
	c.mu.Lock()
	if !c.closed {
		buf := append([]byte(nil), data...)
		c.queued = append(c.queued, buf)
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

// Read blocks until at least one buffered DataChannelMessage is
// available, then copies as much of it into p as fits, retaining any
// remainder for the next Read.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queued) == 0 && !c.closed {
		c.cond.Wait()
	}
	if c.closed && len(c.queued) == 0 {
		return 0, ErrClosed
	}
	msg := c.queued[0]
	n := copy(p, msg)
	if n < len(msg) {
		c.queued[0] = msg[n:]
	} else {
		c.queued = c.queued[1:]
	}
	return n, nil
}

// Write sends p as a single DataChannelMessage.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if err := c.dc.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close unblocks any pending Read with ErrClosed and closes the
// underlying data channel.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	return c.dc.Close()
}
