package admin

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/resume-rsocket/rsocket-resume-go/reconnect"
)

// event is the JSON shape streamed over /events: either a transport-loss
// notification (Kind "closed") or a reconnect attempt outcome (Kind
// "reconnect").
type event struct {
	Kind            string `json:"kind"`
	ConnectionIndex uint64 `json:"connectionIndex"`
	Attempt         int    `json:"attempt,omitempty"`
	Error           string `json:"error,omitempty"`
	GaveUp          bool   `json:"gaveUp,omitempty"`
}

// handleEvents upgrades the request to a WebSocket and streams every
// value it receives from Connection.OnActiveConnectionClosed and, if a
// reconnect.Manager is attached, from the Manager's Events channel. Both
// are single shared channels: a value taken by another reader (the
// Manager itself reads OnActiveConnectionClosed, and other /events
// clients read the same channels) does not reach this client.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Upgrading /events request to WebSocket errored")
		return
	}
	defer conn.Close()

	closed := s.conn.OnActiveConnectionClosed()

	var reconnectEvents <-chan reconnect.Event
	if s.reconnectMgr != nil {
		reconnectEvents = s.reconnectMgr.Events()
	}

	for {
		var ev event

		select {
		case idx, ok := <-closed:
			if !ok {
				return
			}
			ev = event{Kind: "closed", ConnectionIndex: idx}

		case re, ok := <-reconnectEvents:
			if !ok {
				reconnectEvents = nil
				continue
			}
			ev = event{Kind: "reconnect", ConnectionIndex: re.ConnectionIndex, Attempt: re.Attempt, GaveUp: re.GaveUp}
			if re.Err != nil {
				ev.Error = re.Err.Error()
			}
		}

		if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return
		}
		if err := conn.WriteJSON(ev); err != nil {
			log.WithError(err).Debug("Closing /events WebSocket after write error")
			return
		}
	}
}
