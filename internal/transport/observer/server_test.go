package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"looneyrace.ai/internal/protocol"
)

func dialTestServer(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_SubscribeAndStream(t *testing.T) {
	s := NewServer("m-1", protocol.RaceParams{GridSize: 5, CarrotsRequired: 2, MaxSteps: 100}, nil)
	conn := dialTestServer(t, s)

	sub := protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var welcome protocol.WelcomeMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if welcome.Type != protocol.TypeWelcome || welcome.MatchID != "m-1" {
		t.Fatalf("unexpected welcome: %+v", welcome)
	}
	if welcome.RaceParams.GridSize != 5 {
		t.Fatalf("race params lost: %+v", welcome.RaceParams)
	}

	// Wait until the viewer is registered before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.viewers)
		s.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("viewer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Broadcast(protocol.Snapshot{
		Type:            protocol.TypeSnapshot,
		ProtocolVersion: protocol.Version,
		MatchID:         "m-1",
		Step:            3,
		Rows:            []string{"B....", ".....", "..F..", ".....", "....M"},
	})

	var snap protocol.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Step != 3 || len(snap.Rows) != 5 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestServer_RejectsBadHandshake(t *testing.T) {
	s := NewServer("m-1", protocol.RaceParams{}, nil)
	conn := dialTestServer(t, s)

	if err := conn.WriteJSON(protocol.BaseMessage{Type: "HELLO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the connection to close on a bad handshake")
	}
}

func TestServer_Bootstrap(t *testing.T) {
	s := NewServer("m-9", protocol.RaceParams{GridSize: 7, Seed: 11}, nil)
	rec := httptest.NewRecorder()
	s.BootstrapHandler()(rec, httptest.NewRequest(http.MethodGet, "/v1/bootstrap", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp protocol.WelcomeMsg
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.MatchID != "m-9" || resp.RaceParams.GridSize != 7 {
		t.Fatalf("unexpected bootstrap: %+v", resp)
	}
}
