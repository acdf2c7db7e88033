// Package session tracks the peers participating in one streaming
// session: a host, up to config.MaxPlayers active players, and any
// number of spectators, each correlated by a google/uuid identifier
// (spec.md's GLOSSARY treats "session" as the connection-lifetime
// scope a socket/ring-buffer/driver set lives within).
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamcore/streamcore/pkg/wire"
)

// Role is a peer's participation level in the session.
type Role string

const (
	RoleHost      Role = "host"
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// Peer is one connected participant: the UDP/TCP association identity
// the transport layer correlates frames and input against.
type Peer struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Role       Role      `json:"role"`
	PlayerSlot int       `json:"player_slot"` // 0..maxPlayers-1, or -1 for spectators
	JoinedAt   time.Time `json:"joined_at"`

	// InputEnabled mirrors spec.md §4.9's input-replay admission: a
	// spectator's Messages are never forwarded to inputreplay.Replayer
	// regardless of this flag.
	InputEnabled bool `json:"input_enabled"`
}

// Session is one active streaming session: the lifetime scope a
// udpsock.Socket/tcpsock.Socket/ring.Buffer set lives within (spec.md
// §3's "socket contexts live for the connection").
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.RWMutex
	peers      map[string]*Peer
	playerSlot []*Peer
	host       *Peer
	maxPlayers int

	inputCh chan PeerInput

	onPeerJoined  func(*Peer)
	onPeerLeft    func(*Peer)
	onRoleChanged func(*Peer, Role)
}

// PeerInput pairs a reassembled Message with the peer it came from, so
// pkg/inputreplay can consult CanSendInput before applying it.
type PeerInput struct {
	PeerID  string
	Message wire.Message
}

// New creates a session that admits at most maxPlayers concurrent
// players (spectators are unbounded).
func New(maxPlayers int) *Session {
	if maxPlayers <= 0 {
		maxPlayers = 4
	}
	return &Session{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now(),
		peers:      make(map[string]*Peer),
		playerSlot: make([]*Peer, maxPlayers),
		maxPlayers: maxPlayers,
		inputCh:    make(chan PeerInput, 256),
	}
}

// AddHost registers the first peer as host, occupying player slot 0.
func (s *Session) AddHost(name string) (*Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host != nil {
		return nil, errors.New("session: host already assigned")
	}
	peer := &Peer{
		ID:           uuid.NewString(),
		Name:         name,
		Role:         RoleHost,
		PlayerSlot:   0,
		JoinedAt:     time.Now(),
		InputEnabled: true,
	}
	s.peers[peer.ID] = peer
	s.playerSlot[0] = peer
	s.host = peer
	if s.onPeerJoined != nil {
		go s.onPeerJoined(peer)
	}
	return peer, nil
}

// AddSpectator registers a new spectator, who may watch but not send
// input until promoted.
func (s *Session) AddSpectator(name string) *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer := &Peer{
		ID:         uuid.NewString(),
		Name:       name,
		Role:       RoleSpectator,
		PlayerSlot: -1,
		JoinedAt:   time.Now(),
	}
	s.peers[peer.ID] = peer
	if s.onPeerJoined != nil {
		go s.onPeerJoined(peer)
	}
	return peer
}

// PromoteToPlayer moves a spectator into the first free player slot.
func (s *Session) PromoteToPlayer(peerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, ok := s.peers[peerID]
	if !ok {
		return -1, errors.New("session: peer not found")
	}
	if peer.Role != RoleSpectator {
		return peer.PlayerSlot, nil
	}
	slot := -1
	for i := 1; i < len(s.playerSlot); i++ {
		if s.playerSlot[i] == nil {
			slot = i
			break
		}
	}
	if slot == -1 {
		return -1, errors.New("session: no player slots available")
	}
	peer.Role = RolePlayer
	peer.PlayerSlot = slot
	peer.InputEnabled = true
	s.playerSlot[slot] = peer
	if s.onRoleChanged != nil {
		go s.onRoleChanged(peer, RolePlayer)
	}
	return slot, nil
}

// RemovePeer drops a peer and frees its player slot, if any.
func (s *Session) RemovePeer(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, ok := s.peers[peerID]
	if !ok {
		return
	}
	if peer.PlayerSlot >= 0 && peer.PlayerSlot < len(s.playerSlot) {
		s.playerSlot[peer.PlayerSlot] = nil
	}
	delete(s.peers, peerID)
	if peer.Role == RoleHost {
		s.host = nil
	}
	if s.onPeerLeft != nil {
		go s.onPeerLeft(peer)
	}
}

// GetPeer looks up a peer by ID.
func (s *Session) GetPeer(peerID string) *Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peers[peerID]
}

// Host returns the session host, if one has joined.
func (s *Session) Host() *Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.host
}

// Players returns the currently occupied player slots.
func (s *Session) Players() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Peer, 0, len(s.playerSlot))
	for _, p := range s.playerSlot {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// CanSendInput reports whether peerID's role/flags permit forwarding
// msg to pkg/inputreplay (spec.md §4.9's replay layer assumes its
// caller has already screened for this).
func (s *Session) CanSendInput(peerID string, kind wire.MessageKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peer, ok := s.peers[peerID]
	if !ok || peer.Role == RoleSpectator {
		return false
	}
	switch kind {
	case wire.MsgKeyboard, wire.MsgKeyboardState, wire.MsgMouseMotion, wire.MsgMouseButton, wire.MsgMouseWheel, wire.MsgMultigesture:
		return peer.InputEnabled
	default:
		return true
	}
}

// InputChannel exposes the session's inbound-input queue to the
// server's dispatch loop.
func (s *Session) InputChannel() <-chan PeerInput { return s.inputCh }

// SubmitInput enqueues one peer's reassembled Message, dropping it if
// the queue is saturated rather than blocking the recv loop.
func (s *Session) SubmitInput(peerID string, msg wire.Message) {
	select {
	case s.inputCh <- PeerInput{PeerID: peerID, Message: msg}:
	default:
	}
}

// Close releases session resources.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.inputCh)
}

func (s *Session) OnPeerJoined(fn func(*Peer)) { s.onPeerJoined = fn }
func (s *Session) OnPeerLeft(fn func(*Peer))   { s.onPeerLeft = fn }
func (s *Session) OnRoleChanged(fn func(*Peer, Role)) { s.onRoleChanged = fn }
