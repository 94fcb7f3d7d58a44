// Package admin exposes an operator-facing HTTP/WebSocket surface over a
// resume.Connection: a JSON status endpoint, a store summary, and a
// WebSocket feed of reconnect and transport-loss events. This is
// diagnostic tooling layered above the resumption core, grounded on
// agent/rest_agent.go's gorilla/mux router and pkg/agent/ws_agent.go's
// gorilla/websocket upgrade.
package admin

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/resume-rsocket/rsocket-resume-go/reconnect"
	"github.com/resume-rsocket/rsocket-resume-go/resume"
)

// Store is the subset of resume.FramesStore the admin surface reports on.
type Store = resume.FramesStore

// Server is an http.Handler exposing /status, /store, and /events for a
// single Connection.
type Server struct {
	router *mux.Router

	conn      *resume.Connection
	store     Store
	storeKind string
	budget    int

	reconnectMgr *reconnect.Manager

	upgrader websocket.Upgrader
}

// New builds a Server for conn. storeKind and budget are reported
// verbatim on /store (e.g. "memory"/"badger" and the configured byte
// budget, 0 meaning unbounded); reconnectMgr may be nil if no default
// reconnect driver is in use, in which case /events only reports
// transport-loss events.
func New(conn *resume.Connection, store Store, storeKind string, budget int, reconnectMgr *reconnect.Manager) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		conn:         conn,
		store:        store,
		storeKind:    storeKind,
		budget:       budget,
		reconnectMgr: reconnectMgr,
		upgrader:     websocket.Upgrader{},
	}

	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/store", s.handleStore).Methods(http.MethodGet)
	s.router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	return s
}

// ServeHTTP implements http.Handler, so Server can be mounted directly on
// an http.Server or a parent mux.Router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// statusResponse mirrors the fields a reconnect driver or a human
// operator needs to reason about a Connection's health.
type statusResponse struct {
	Side            string `json:"side"`
	Session         string `json:"session"`
	State           string `json:"state"`
	ConnectionIndex uint64 `json:"connectionIndex"`
	Disposed        bool   `json:"disposed"`
	RemoteAddress   string `json:"remoteAddress,omitempty"`
	SentPosition    uint64 `json:"sentPosition"`
	LocalAck        uint64 `json:"localAck"`
	ImpliedPosition uint64 `json:"impliedPosition"`
	RemoteAck       uint64 `json:"remoteAck"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Side:            s.conn.Side().String(),
		Session:         hex.EncodeToString(s.conn.SessionToken()),
		State:           s.conn.State(),
		ConnectionIndex: s.conn.ConnectionIndex(),
		Disposed:        s.conn.IsDisposed(),
		SentPosition:    s.store.SentPosition(),
		LocalAck:        s.store.LocalAck(),
		ImpliedPosition: s.store.ImpliedPosition(),
		RemoteAck:       s.store.RemoteAck(),
	}
	if addr := s.conn.RemoteAddress(); addr != nil {
		resp.RemoteAddress = addr.String()
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.WithError(err).Warn("Failed to write /status response")
	}
}

type storeResponse struct {
	Kind          string `json:"kind"`
	RetainedBytes uint64 `json:"retainedBytes"`
	Budget        int    `json:"budget"`
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	resp := storeResponse{
		Kind:          s.storeKind,
		RetainedBytes: s.store.SentPosition() - s.store.LocalAck(),
		Budget:        s.budget,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.WithError(err).Warn("Failed to write /store response")
	}
}
