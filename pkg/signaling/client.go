package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamcore/streamcore/pkg/crypto"
)

// Dial runs the client side of the handshake against a server started
// with New: it sends Hello, answers the challenge with crypt, and
// returns the connect parameters the server hands back. url is a
// ws://host:port/handshake address.
func Dial(ctx context.Context, url, name string, crypt *crypto.Context) (*ConnectInfoPayload, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling: dialing %s: %w", url, err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	if err := sendClientEnvelope(conn, MsgHello, HelloPayload{Name: name}); err != nil {
		return nil, err
	}

	var challengeEnv Envelope
	if err := conn.ReadJSON(&challengeEnv); err != nil {
		return nil, fmt.Errorf("signaling: reading challenge: %w", err)
	}
	if challengeEnv.Type == MsgError {
		return nil, decodeError(challengeEnv)
	}
	if challengeEnv.Type != MsgChallenge {
		return nil, fmt.Errorf("signaling: expected challenge, got %q", challengeEnv.Type)
	}
	var challenge ChallengePayload
	if err := json.Unmarshal(challengeEnv.Payload, &challenge); err != nil {
		return nil, fmt.Errorf("signaling: decoding challenge: %w", err)
	}

	response, err := crypt.ChallengeResponse(challenge.Nonce)
	if err != nil {
		return nil, fmt.Errorf("signaling: computing challenge response: %w", err)
	}
	if err := sendClientEnvelope(conn, MsgChallengeResponse, ChallengeResponsePayload{Response: response}); err != nil {
		return nil, err
	}

	var finalEnv Envelope
	if err := conn.ReadJSON(&finalEnv); err != nil {
		return nil, fmt.Errorf("signaling: reading connect info: %w", err)
	}
	if finalEnv.Type == MsgError {
		return nil, decodeError(finalEnv)
	}
	if finalEnv.Type != MsgConnectInfo {
		return nil, fmt.Errorf("signaling: expected connect_info, got %q", finalEnv.Type)
	}
	var info ConnectInfoPayload
	if err := json.Unmarshal(finalEnv.Payload, &info); err != nil {
		return nil, fmt.Errorf("signaling: decoding connect info: %w", err)
	}
	return &info, nil
}

func sendClientEnvelope(conn *websocket.Conn, kind MessageType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("signaling: encoding %s: %w", kind, err)
	}
	if err := conn.WriteJSON(Envelope{Type: kind, Payload: data}); err != nil {
		return fmt.Errorf("signaling: writing %s: %w", kind, err)
	}
	return nil
}

func decodeError(env Envelope) error {
	var errPayload ErrorPayload
	if err := json.Unmarshal(env.Payload, &errPayload); err != nil {
		return fmt.Errorf("signaling: handshake rejected (undecodable reason)")
	}
	return fmt.Errorf("signaling: handshake rejected: %s", errPayload.Error)
}
