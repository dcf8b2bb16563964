// Package observer streams race frames to websocket viewers. Viewers are
// read-only; a slow viewer loses frames rather than slowing the race.
package observer

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"looneyrace.ai/internal/protocol"
)

const viewerBuffer = 64

type Server struct {
	matchID string
	params  protocol.RaceParams
	log     *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	viewers map[string]chan []byte
}

func NewServer(matchID string, params protocol.RaceParams, logger *log.Logger) *Server {
	return &Server{
		matchID: matchID,
		params:  params,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		viewers: map[string]chan []byte{},
	}
}

// Broadcast fans a frame out to every viewer, dropping the oldest frame on
// a full viewer buffer.
func (s *Server) Broadcast(snap protocol.Snapshot) {
	b, err := json.Marshal(snap)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range s.viewers {
		sendLatest(out, b)
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		resp := protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			MatchID:         s.matchID,
			RaceParams:      s.params,
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil ||
			sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"),
				time.Now().Add(time.Second))
			return
		}
		_ = conn.SetReadDeadline(time.Time{})

		sid := fmt.Sprintf("V%d", s.nextID.Add(1))
		out := make(chan []byte, viewerBuffer)
		s.addViewer(sid, out)
		defer s.removeViewer(sid)

		welcome := protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sid,
			MatchID:         s.matchID,
			RaceParams:      s.params,
		}
		wb, _ := json.Marshal(welcome)
		if err := conn.WriteMessage(websocket.TextMessage, wb); err != nil {
			return
		}
		if s.log != nil {
			s.log.Printf("viewer %s subscribed from %s", sid, r.RemoteAddr)
		}

		// Reader goroutine: its only job is to notice the close.
		readerGone := make(chan struct{})
		go func() {
			defer close(readerGone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-readerGone:
				return
			case b, ok := <-out:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}
	}
}

// CloseViewers ends every viewer stream, letting handlers drain and return.
func (s *Server) CloseViewers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, out := range s.viewers {
		close(out)
		delete(s.viewers, id)
	}
}

func (s *Server) addViewer(id string, out chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewers[id] = out
}

func (s *Server) removeViewer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.viewers, id)
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
