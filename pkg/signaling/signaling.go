// Package signaling implements the out-of-band handshake transport of
// spec.md §6: a short-lived WebSocket exchange that authenticates a
// new peer against the pre-shared key and hands it the UDP/TCP
// connect parameters before any media socket comes up.
package signaling

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamcore/streamcore/pkg/crypto"
	"github.com/streamcore/streamcore/pkg/logging"
	"github.com/streamcore/streamcore/pkg/session"
)

// MessageType enumerates the handshake envelope kinds.
type MessageType string

const (
	MsgHello             MessageType = "hello"
	MsgChallenge         MessageType = "challenge"
	MsgChallengeResponse MessageType = "challenge_response"
	MsgConnectInfo       MessageType = "connect_info"
	MsgError             MessageType = "error"
)

// Envelope is the WebSocket wire message: a tagged JSON payload, kept
// deliberately simple since this transport only runs for the duration
// of one handshake.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload is the client's opening message.
type HelloPayload struct {
	Name string `json:"name"`
}

// ChallengePayload carries a server-chosen nonce the client must
// answer with crypto.Context.ChallengeResponse, proving possession of
// the pre-shared key without it ever crossing the wire.
type ChallengePayload struct {
	Nonce []byte `json:"nonce"`
}

// ChallengeResponsePayload is the client's answer to ChallengePayload.
type ChallengeResponsePayload struct {
	Response []byte `json:"response"`
}

// ConnectInfoPayload hands the authenticated peer the parameters it
// needs to open its UDP and TCP socket contexts.
type ConnectInfoPayload struct {
	SessionID  string       `json:"session_id"`
	PeerID     string       `json:"peer_id"`
	Role       session.Role `json:"role"`
	PlayerSlot int          `json:"player_slot"`
	UDPPort    int          `json:"udp_port"`
	TCPPort    int          `json:"tcp_port"`
}

// ErrorPayload reports a handshake failure before the connection is
// closed.
type ErrorPayload struct {
	Error string `json:"error"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ErrChallengeFailed means the peer's response did not match the
// pre-shared-key-derived expectation.
var ErrChallengeFailed = errors.New("signaling: challenge response mismatch")

const handshakeTimeout = 5 * time.Second

// Server runs the handshake for one listening address, authenticating
// peers against crypt and handing them into sessions.
type Server struct {
	crypt   *crypto.Context
	manager *session.Manager
	log     *logging.Logger
	udpPort int
	tcpPort int
}

// New builds a Server. udpPort/tcpPort are advertised to every peer
// that completes the handshake.
func New(crypt *crypto.Context, manager *session.Manager, udpPort, tcpPort int, log *logging.Logger) *Server {
	return &Server{crypt: crypt, manager: manager, udpPort: udpPort, tcpPort: tcpPort, log: log}
}

// ServeHTTP upgrades the connection, runs the challenge, assigns the
// peer a role in the active (or newly created) session, and sends
// back its connect parameters. The WebSocket connection is closed
// before this returns; it exists only for the handshake.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warnf("signaling: upgrade failed: %v", err)
		}
		return
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	name, err := s.readHello(conn)
	if err != nil {
		s.sendError(conn, err)
		return
	}

	if err := s.runChallenge(conn); err != nil {
		s.sendError(conn, err)
		return
	}

	peer, sess, err := s.admitPeer(name)
	if err != nil {
		s.sendError(conn, err)
		return
	}

	s.sendEnvelope(conn, MsgConnectInfo, ConnectInfoPayload{
		SessionID:  sess.ID,
		PeerID:     peer.ID,
		Role:       peer.Role,
		PlayerSlot: peer.PlayerSlot,
		UDPPort:    s.udpPort,
		TCPPort:    s.tcpPort,
	})
}

func (s *Server) readHello(conn *websocket.Conn) (string, error) {
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return "", fmt.Errorf("signaling: reading hello: %w", err)
	}
	if env.Type != MsgHello {
		return "", fmt.Errorf("signaling: expected hello, got %q", env.Type)
	}
	var hello HelloPayload
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		return "", fmt.Errorf("signaling: decoding hello: %w", err)
	}
	if hello.Name == "" {
		hello.Name = "player"
	}
	return hello.Name, nil
}

func (s *Server) runChallenge(conn *websocket.Conn) error {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("signaling: generating nonce: %w", err)
	}
	want, err := s.crypt.ChallengeResponse(nonce)
	if err != nil {
		return fmt.Errorf("signaling: computing expected response: %w", err)
	}

	s.sendEnvelope(conn, MsgChallenge, ChallengePayload{Nonce: nonce})

	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return fmt.Errorf("signaling: reading challenge response: %w", err)
	}
	if env.Type != MsgChallengeResponse {
		return fmt.Errorf("signaling: expected challenge_response, got %q", env.Type)
	}
	var resp ChallengeResponsePayload
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return fmt.Errorf("signaling: decoding challenge response: %w", err)
	}
	if len(resp.Response) != len(want) || !constantTimeEqual(resp.Response, want) {
		return ErrChallengeFailed
	}
	return nil
}

func (s *Server) admitPeer(name string) (*session.Peer, *session.Session, error) {
	sess := s.manager.ActiveSession()
	if sess == nil {
		var err error
		sess, err = s.manager.CreateSession()
		if err != nil {
			return nil, nil, err
		}
		peer, err := sess.AddHost(name)
		return peer, sess, err
	}
	if sess.Host() == nil {
		peer, err := sess.AddHost(name)
		return peer, sess, err
	}
	return sess.AddSpectator(name), sess, nil
}

func (s *Server) sendEnvelope(conn *websocket.Conn, kind MessageType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	conn.WriteJSON(Envelope{Type: kind, Payload: data})
}

func (s *Server) sendError(conn *websocket.Conn, cause error) {
	if s.log != nil {
		s.log.Warnf("signaling: handshake failed: %v", cause)
	}
	s.sendEnvelope(conn, MsgError, ErrorPayload{Error: cause.Error()})
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
