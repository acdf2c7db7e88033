package signaling

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/streamcore/streamcore/pkg/crypto"
	"github.com/streamcore/streamcore/pkg/session"
)

func newTestServer(t *testing.T) (*httptest.Server, *crypto.Context, *session.Manager) {
	t.Helper()
	crypt, err := crypto.NewContext(make([]byte, 16))
	if err != nil {
		t.Fatalf("crypto.NewContext: %v", err)
	}
	mgr := session.NewManager(4)
	srv := New(crypt, mgr, 9000, 9001, nil)
	ts := httptest.NewServer(srv)
	return ts, crypt, mgr
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, kind MessageType, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteJSON(Envelope{Type: kind, Payload: data}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestHandshakeSucceedsWithCorrectChallengeResponse(t *testing.T) {
	ts, crypt, _ := newTestServer(t)
	defer ts.Close()

	conn := dial(t, ts)
	defer conn.Close()

	sendEnvelope(t, conn, MsgHello, HelloPayload{Name: "alice"})

	var challengeEnv Envelope
	if err := conn.ReadJSON(&challengeEnv); err != nil {
		t.Fatalf("read challenge: %v", err)
	}
	if challengeEnv.Type != MsgChallenge {
		t.Fatalf("envelope type = %q, want challenge", challengeEnv.Type)
	}
	var challenge ChallengePayload
	if err := json.Unmarshal(challengeEnv.Payload, &challenge); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}

	response, err := crypt.ChallengeResponse(challenge.Nonce)
	if err != nil {
		t.Fatalf("ChallengeResponse: %v", err)
	}
	sendEnvelope(t, conn, MsgChallengeResponse, ChallengeResponsePayload{Response: response})

	var connectEnv Envelope
	if err := conn.ReadJSON(&connectEnv); err != nil {
		t.Fatalf("read connect info: %v", err)
	}
	if connectEnv.Type != MsgConnectInfo {
		t.Fatalf("envelope type = %q, want connect_info", connectEnv.Type)
	}
	var info ConnectInfoPayload
	if err := json.Unmarshal(connectEnv.Payload, &info); err != nil {
		t.Fatalf("decode connect info: %v", err)
	}
	if info.Role != session.RoleHost || info.UDPPort != 9000 || info.TCPPort != 9001 {
		t.Fatalf("connect info = %+v, want host role and advertised ports", info)
	}
}

func TestHandshakeRejectsWrongChallengeResponse(t *testing.T) {
	ts, _, _ := newTestServer(t)
	defer ts.Close()

	conn := dial(t, ts)
	defer conn.Close()

	sendEnvelope(t, conn, MsgHello, HelloPayload{Name: "alice"})

	var challengeEnv Envelope
	if err := conn.ReadJSON(&challengeEnv); err != nil {
		t.Fatalf("read challenge: %v", err)
	}
	sendEnvelope(t, conn, MsgChallengeResponse, ChallengeResponsePayload{Response: []byte("wrong")})

	var errEnv Envelope
	if err := conn.ReadJSON(&errEnv); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if errEnv.Type != MsgError {
		t.Fatalf("envelope type = %q, want error", errEnv.Type)
	}
}

func TestSecondPeerJoinsAsSpectator(t *testing.T) {
	ts, crypt, _ := newTestServer(t)
	defer ts.Close()

	completeHandshake := func(name string) ConnectInfoPayload {
		conn := dial(t, ts)
		defer conn.Close()
		sendEnvelope(t, conn, MsgHello, HelloPayload{Name: name})

		var challengeEnv Envelope
		if err := conn.ReadJSON(&challengeEnv); err != nil {
			t.Fatalf("read challenge: %v", err)
		}
		var challenge ChallengePayload
		json.Unmarshal(challengeEnv.Payload, &challenge)
		response, _ := crypt.ChallengeResponse(challenge.Nonce)
		sendEnvelope(t, conn, MsgChallengeResponse, ChallengeResponsePayload{Response: response})

		var connectEnv Envelope
		if err := conn.ReadJSON(&connectEnv); err != nil {
			t.Fatalf("read connect info: %v", err)
		}
		var info ConnectInfoPayload
		json.Unmarshal(connectEnv.Payload, &info)
		return info
	}

	first := completeHandshake("alice")
	second := completeHandshake("bob")

	if first.Role != session.RoleHost {
		t.Fatalf("first peer role = %q, want host", first.Role)
	}
	if second.Role != session.RoleSpectator {
		t.Fatalf("second peer role = %q, want spectator", second.Role)
	}
	if first.SessionID != second.SessionID {
		t.Fatal("expected both peers to join the same session")
	}
}
