// SPDX-FileCopyrightText: 2026 rsocket-resume-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package reconnect provides a default reconnect driver for a
// resume.Connection. The resumption layer itself treats reconnection as
// wholly external — a Connection only exposes OnActiveConnectionClosed
// and Connect — but a module this size ships a default driver so
// cmd/resumed and callers who don't need custom dial logic have
// something to compose with.
//
// Grounded on pkg/cla.Manager's ticker-driven retry loop: a fixed retry
// interval, a per-attachment TTL countdown, and a stop-once shutdown
// handshake (stopSyn/stopAck in the teacher, a once-closed stop channel
// plus a done channel here).
package reconnect

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/resume-rsocket/rsocket-resume-go/resume"
)

// Dialer establishes a fresh resume.Transport to the same peer a
// Connection was originally attached to. It is the caller-supplied
// analogue of a CLA's Start(): reconnect.Manager never opens sockets
// itself.
type Dialer func(ctx context.Context) (resume.Transport, error)

// Manager watches a Connection's OnActiveConnectionClosed signal and
// attempts to reattach a new transport via dial, retrying on a fixed
// interval up to maxAttempts times per lost attachment before giving up.
// A maxAttempts of 0 means unlimited retries — the direct analogue of a
// CLA registered with IsPermanent() true, which is never dropped after
// failures.
type Manager struct {
	conn        *resume.Connection
	dial        Dialer
	retryEvery  time.Duration
	maxAttempts int

	logger *log.Entry

	mu       sync.Mutex
	stopped  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	events chan Event
}

// Event reports the outcome of one reconnect attempt, consumed by an
// operator-facing surface such as the admin package's /events feed.
type Event struct {
	ConnectionIndex uint64
	Attempt         int
	Err             error // nil on success
	GaveUp          bool
}

// New creates a Manager for conn. It does not start watching until Start
// is called.
func New(conn *resume.Connection, dial Dialer, retryEvery time.Duration, maxAttempts int) *Manager {
	return &Manager{
		conn:        conn,
		dial:        dial,
		retryEvery:  retryEvery,
		maxAttempts: maxAttempts,
		logger:      log.WithField("component", "reconnect"),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		events:      make(chan Event, 16),
	}
}

// Start begins watching Connection.OnActiveConnectionClosed in its own
// goroutine.
func (m *Manager) Start() {
	go m.run()
}

// Events returns the channel of reconnect attempt outcomes. Never
// blocks the reconnect loop itself for long: the channel is buffered and
// a full buffer drops the oldest-pending event rather than stalling a
// retry.
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) run() {
	defer close(m.doneCh)

	closed := m.conn.OnActiveConnectionClosed()

	for {
		select {
		case <-m.stopCh:
			return

		case idx, ok := <-closed:
			if !ok {
				return
			}
			m.reattach(idx)
		}
	}
}

func (m *Manager) reattach(idx uint64) {
	if m.conn.IsDisposed() {
		return
	}

	ticker := time.NewTicker(m.retryEvery)
	defer ticker.Stop()

	attempt := 0
	for {
		attempt++

		ctx, cancel := context.WithTimeout(context.Background(), m.retryEvery)
		transport, err := m.dial(ctx)
		cancel()

		if err == nil {
			if m.conn.Connect(transport) {
				m.logger.WithField("connection", idx).WithField("attempt", attempt).Info("Reconnected")
				m.emit(Event{ConnectionIndex: idx, Attempt: attempt})
				return
			}
			transport.Dispose()
			m.logger.WithField("connection", idx).Debug("Connection disposed during reconnect attempt")
			return
		}

		m.logger.WithError(err).WithField("connection", idx).WithField("attempt", attempt).Warn("Reconnect attempt failed")
		m.emit(Event{ConnectionIndex: idx, Attempt: attempt, Err: err})

		if m.maxAttempts > 0 && attempt >= m.maxAttempts {
			m.logger.WithField("connection", idx).Warn("Giving up on reconnect")
			m.emit(Event{ConnectionIndex: idx, Attempt: attempt, Err: err, GaveUp: true})
			return
		}

		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		select {
		case <-m.events:
		default:
		}
		select {
		case m.events <- ev:
		default:
		}
	}
}

// Stop halts the Manager. In-flight reattachment attempts are abandoned
// at their next retry boundary. Idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}
