// Package statusapi serves a minimal read-only maintenance console: a JSON
// snapshot endpoint and a WebSocket feed of Mode transitions. It never
// accepts commands back into internal/core — strictly observational, the
// way SPEC_FULL.md's domain-stack table scopes it. Grounded on the
// gorilla/websocket server shape used by the signaling style seen in
// robot-agent's internal/session, and on gauthbox's cmd/config plain
// net/http server.
package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"tinkeraccess/internal/core"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type statusSnapshot struct {
	Mode     string `json:"mode"`
	UserName string `json:"user_name,omitempty"`
}

// Server exposes GET /status (one-shot JSON) and GET /ws (push feed) over
// the current Controller snapshot.
type Server struct {
	ctrl *core.Controller
	log  *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan statusSnapshot
}

// New builds a Server; call Controller.OnTransition(srv.Broadcast) to wire
// live pushes, and Handler() to mount it on an http.ServeMux.
func New(ctrl *core.Controller, log *slog.Logger) *Server {
	return &Server{
		ctrl:    ctrl,
		log:     log,
		clients: make(map[*websocket.Conn]chan statusSnapshot),
	}
}

// Handler returns the mux to serve, typically at a dedicated listen address
// separate from the configserver.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) snapshot() statusSnapshot {
	mode, user := s.ctrl.Snapshot()
	snap := statusSnapshot{Mode: mode.StatusFileValue()}
	if user != nil {
		snap.UserName = user.UserName
	}
	return snap
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("statusapi: websocket upgrade failed", slog.Any("error", err))
		return
	}

	updates := make(chan statusSnapshot, 8)
	s.mu.Lock()
	s.clients[conn] = updates
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	if err := conn.WriteJSON(s.snapshot()); err != nil {
		return
	}
	for snap := range updates {
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
	}
}

// Broadcast is a core.Controller.OnTransition observer: it fans the new mode
// out to every connected WebSocket client, dropping clients that are too
// slow to keep up rather than blocking the dispatch loop.
func (s *Server) Broadcast(mode core.Mode) {
	snap := statusSnapshot{Mode: mode.StatusFileValue()}
	if _, user := s.ctrl.Snapshot(); user != nil {
		snap.UserName = user.UserName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.clients {
		select {
		case ch <- snap:
		default:
			s.log.Warn("statusapi: dropping slow websocket client")
			delete(s.clients, conn)
			close(ch)
		}
	}
}
