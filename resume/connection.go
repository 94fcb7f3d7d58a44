// SPDX-FileCopyrightText: 2026 rsocket-resume-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package resume implements the resumable duplex connection layer of an
// RSocket-style protocol stack: a logical session that sits above a
// transport, transparently replaces the transport on failure, persists
// not-yet-acknowledged frames in a Resumable Frames Store, replays them
// over the successor transport, and filters duplicates on receive.
package resume

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/resume-rsocket/rsocket-resume-go/rerrors"
)

// Side controls which party initiates reconnects. Purely informational to
// Connection; it does not alter the state machine.
type Side int

const (
	Client Side = iota
	Server
)

func (s Side) String() string {
	switch s {
	case Client:
		return "client"
	case Server:
		return "server"
	default:
		return "unknown"
	}
}

// subscription state, see the state table in the resumption design.
const (
	stateCreated    int32 = 0
	stateSubscribed int32 = 1
	stateWired      int32 = 2
)

// Connection is the Resumable Duplex Connection. It exposes a stable,
// long-lived duplex frame channel, routes outbound frames to the active
// transport, receives inbound frames, and swaps transports on reconnect.
//
// All exported methods are concurrency-safe. The Connection itself never
// blocks: operations either enqueue into outboundQueue/closedSink or take
// mu for the duration of a pointer update, never for an I/O wait.
type Connection struct {
	side    Side
	session []byte

	store FramesStore
	queue *outboundQueue

	mu              sync.Mutex
	active          Transport
	connectionIndex uint64
	activeReceiver  *frameReceivingSubscriber
	replayCancel    *cancelSignal
	remoteAddr      net.Addr

	state int32 // atomic, see stateCreated/stateSubscribed/stateWired

	receiveCh chan *Frame

	closedSink *closedSink

	onCloseCh   chan error
	onCloseOnce sync.Once

	logger *log.Entry
}

// New creates a Connection for the given side and session token, over the
// already-started store and an initial transport. The initial transport
// is not yet wired; wiring happens when the session first subscribes to
// Receive and requests demand via RequestReceive.
func New(side Side, sessionToken []byte, initial Transport, store FramesStore) *Connection {
	c := &Connection{
		side:      side,
		session:   sessionToken,
		store:     store,
		queue:     newOutboundQueue(),
		active:    initial,
		receiveCh: make(chan *Frame, 64),

		closedSink: newClosedSink(),
		onCloseCh:  make(chan error, 1),
	}
	c.remoteAddr = initial.RemoteAddress()
	c.logger = log.WithFields(log.Fields{
		"side":    side,
		"session": fmt.Sprintf("%x", sessionToken),
	})

	appendable := make(chan *Frame)
	go c.dispatch(appendable)

	saveErrs := store.SaveFrames(appendable)
	go c.watchSaveErrs(saveErrs)

	return c
}

// dispatch drains the outbound queue and demultiplexes it: stream-id-zero
// (priority, non-resumable) frames go straight to whatever transport is
// currently active, bypassing the store, per the routing rule that only
// resumable frames are tracked for replay. Resumable frames are handed to
// the store's append stage; their eventual delivery happens via the
// store's replay stream (runReplay), which is the single path a resumable
// frame ever reaches a transport through — this is what lets a reconnect
// replay strictly-ordered history before any new resumable frame.
func (c *Connection) dispatch(appendable chan<- *Frame) {
	defer close(appendable)

	for frame := range c.queue.Out() {
		if !frame.IsResumable() {
			c.sendDirect(frame)
			continue
		}
		appendable <- frame
	}
}

func (c *Connection) sendDirect(frame *Frame) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	active.SendFrame(frame)
}

func (c *Connection) log() *log.Entry {
	c.mu.Lock()
	idx := c.connectionIndex
	c.mu.Unlock()
	return c.logger.WithField("connection", idx)
}

// SendFrame enqueues frame for the active transport. If frame.StreamID()
// is zero it is prioritised ahead of pending non-priority frames.
// Ownership of frame transfers to the Connection. Never blocks, never
// fails — a send after dispose is a silent no-op.
func (c *Connection) SendFrame(frame *Frame) {
	if c.IsDisposed() {
		frame.Release()
		return
	}
	c.queue.Push(frame, frame.StreamID() == 0)
}

// Receive returns the session-facing inbound stream. The first call
// transitions state 0→1. Subsequent calls return the same channel.
func (c *Connection) Receive() <-chan *Frame {
	atomic.CompareAndSwapInt32(&c.state, stateCreated, stateSubscribed)
	return c.receiveCh
}

// RequestReceive signals the session's first demand. It transitions state
// 1→2 and wires the initial (or whatever has since been Connect-ed)
// transport. Only the first call has any effect.
func (c *Connection) RequestReceive() {
	if !atomic.CompareAndSwapInt32(&c.state, stateSubscribed, stateWired) {
		return
	}

	c.mu.Lock()
	next := c.active
	c.mu.Unlock()

	if !isDisposedTransport(next) {
		c.initConnection(next)
	}
}

// Connect atomically swaps the active transport pointer. It returns false
// if the Connection is disposed. Otherwise it disposes the previous
// transport and, if the session has already requested demand, wires a
// fresh receiving subscriber and replay subscription to next. If demand
// has not yet been requested, next simply becomes the transport that will
// be wired on the eventual first RequestReceive.
func (c *Connection) Connect(next Transport) bool {
	c.mu.Lock()
	prev := c.active
	if isDisposedTransport(prev) {
		c.mu.Unlock()
		return false
	}
	c.active = next
	c.remoteAddr = next.RemoteAddress()
	wired := atomic.LoadInt32(&c.state) == stateWired
	c.mu.Unlock()

	prev.Dispose()

	if wired {
		c.initConnection(next)
	}
	return true
}

// Disconnect disposes the current transport without changing the active
// pointer's state; a new transport is expected to be attached via
// Connect. No-op if disposed.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if !isDisposedTransport(active) {
		active.Dispose()
	}
}

// initConnection implements the connect algorithm: a fresh receiving
// subscriber wired to the session channel, a replay subscription reading
// from the store's current unacknowledged offset, and a watcher that
// reports the transport's eventual loss on OnActiveConnectionClosed.
func (c *Connection) initConnection(next Transport) {
	c.mu.Lock()
	c.connectionIndex++
	idx := c.connectionIndex
	prevReceiver := c.activeReceiver
	prevReplayCancel := c.replayCancel

	recv := newFrameReceivingSubscriber(c.store, c.receiveCh, c.logger)
	cancel := newCancelSignal()
	c.activeReceiver = recv
	c.replayCancel = cancel
	c.mu.Unlock()

	if prevReceiver != nil {
		prevReceiver.dispose()
	}
	if prevReplayCancel != nil {
		prevReplayCancel.close()
	}

	c.store.BeginAttachment()
	c.log().Debug("Connecting")

	go recv.run(next.Receive())
	go c.runReplay(next, cancel)
	go c.watchTransportClose(next, idx, recv, cancel)
}

// runReplay subscribes to the store's replay stream and forwards every
// emitted frame to next, in order, until cancelled, the stream errors, or
// the stream completes (an anomaly — see sendErrorAndClose below).
func (c *Connection) runReplay(next Transport, cancel *cancelSignal) {
	frames, errs := c.store.ResumeStream()

	for {
		select {
		case <-cancel.ch:
			return

		case err, ok := <-errs:
			select {
			case <-cancel.ch:
				return
			default:
			}
			if ok && err != nil {
				c.SendErrorAndClose(rerrors.NewConnectionError(err.Error()))
			} else {
				c.SendErrorAndClose(rerrors.NewConnectionCloseError("Connection Closed Unexpectedly"))
			}
			return

		case frame, ok := <-frames:
			if !ok {
				select {
				case <-cancel.ch:
				default:
					c.SendErrorAndClose(rerrors.NewConnectionCloseError("Connection Closed Unexpectedly"))
				}
				return
			}
			next.SendFrame(frame)
		}
	}
}

// watchTransportClose waits for next to close, tears down its receiver
// and replay subscription, and publishes idx on the connection-closed
// sink so an external reconnect driver can decide whether to attach a new
// transport.
func (c *Connection) watchTransportClose(next Transport, idx uint64, recv *frameReceivingSubscriber, cancel *cancelSignal) {
	<-next.OnClose()

	recv.dispose()
	cancel.close()

	c.log().Debug("Disconnected")
	c.closedSink.Push(idx)
}

// OnActiveConnectionClosed emits the connectionIndex each time the
// currently active transport closes. It never emits an error and is
// closed when the Connection is disposed. Every call returns the same
// channel, so when several goroutines read it each index reaches only
// one of them.
func (c *Connection) OnActiveConnectionClosed() <-chan uint64 {
	return c.closedSink.Out()
}

// SendErrorAndClose atomically marks the Connection disposed, forwards
// err on the last live transport, tears down the store subscription,
// receive subscription, and send queue, and terminates OnClose. If err
// has an underlying cause, OnClose terminates with that cause; otherwise
// it completes normally.
func (c *Connection) SendErrorAndClose(err error) {
	c.mu.Lock()
	prev := c.active
	if isDisposedTransport(prev) {
		c.mu.Unlock()
		return
	}
	c.active = disposedTransport{}
	c.mu.Unlock()

	prev.SendErrorAndClose(err)
	<-prev.OnClose()

	c.teardown(causeOf(err))
}

// Dispose performs the same teardown as SendErrorAndClose but without
// sending an error frame. Idempotent.
func (c *Connection) Dispose(cause error) {
	c.mu.Lock()
	prev := c.active
	if isDisposedTransport(prev) {
		c.mu.Unlock()
		return
	}
	c.active = disposedTransport{}
	c.mu.Unlock()

	prev.Dispose()

	c.teardown(cause)
}

// teardown is the shared tail of SendErrorAndClose and Dispose: release
// the receiver, the replay subscription, the send queue, and the store,
// then terminate onClose exactly once.
func (c *Connection) teardown(cause error) {
	c.mu.Lock()
	recv := c.activeReceiver
	replayCancel := c.replayCancel
	c.mu.Unlock()

	if recv != nil {
		recv.dispose()
	}
	if replayCancel != nil {
		replayCancel.close()
	}

	c.queue.Close()
	c.queue.Halt()
	c.closedSink.Close()

	var storeErr error
	if err := c.store.Close(); err != nil {
		storeErr = err
		c.log().WithError(err).Warn("Error while closing resumable frames store")
	}

	c.log().Debug("Disposing")

	// Both cause and storeErr are independent failures: the caller that
	// tore the Connection down and the store's own teardown may each
	// fail for unrelated reasons. Neither should shadow the other, so
	// combine them the same way a multi-check validation accumulates
	// errors instead of returning only the last one.
	final := cause
	switch {
	case cause != nil && storeErr != nil:
		final = multierror.Append(new(multierror.Error), cause, storeErr).ErrorOrNil()
	case storeErr != nil:
		final = storeErr
	}

	c.onCloseOnce.Do(func() {
		if final != nil {
			c.onCloseCh <- final
		}
		close(c.onCloseCh)
	})
}

// OnClose resolves when the Connection is terminally closed. A nil value
// followed by channel closure means a normal close; a non-nil value means
// the Connection closed with that cause.
func (c *Connection) OnClose() <-chan error {
	return c.onCloseCh
}

// IsDisposed reports whether the Connection has reached its terminal
// state.
func (c *Connection) IsDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return isDisposedTransport(c.active)
}

// RemoteAddress returns the active transport's remote address.
func (c *Connection) RemoteAddress() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteAddr
}

// Alloc returns the active transport's Allocator.
func (c *Connection) Alloc() Allocator {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	return active.Alloc()
}

// ConnectionIndex returns the number of transport attachments so far.
func (c *Connection) ConnectionIndex() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionIndex
}

// Side reports which party this Connection was created as. Immutable for
// the Connection's lifetime.
func (c *Connection) Side() Side {
	return c.side
}

// SessionToken returns the session token this Connection was created
// with. Callers must not modify the returned slice.
func (c *Connection) SessionToken() []byte {
	return c.session
}

// State reports the subscription state machine's current value: "created"
// before Receive is first called, "subscribed" after Receive but before
// RequestReceive, "wired" once the initial transport has been attached.
func (c *Connection) State() string {
	switch atomic.LoadInt32(&c.state) {
	case stateSubscribed:
		return "subscribed"
	case stateWired:
		return "wired"
	default:
		return "created"
	}
}

func (c *Connection) watchSaveErrs(errs <-chan error) {
	for err := range errs {
		if err != nil {
			c.log().WithError(err).Error("Resumable frames store refused an append")
			c.Dispose(err)
			return
		}
	}
}

// causeOf mirrors rSocketErrorException.getCause(): an AppError's cause is
// whatever it wraps, and a bare ConnectionError/ConnectionCloseError built
// from a message alone has none. errors.Unwrap returns nil for both the
// unset-Cause AppError case and any error with no Unwrap method, so
// either way a causeless error here becomes a nil onClose value rather
// than the error terminating onClose in its own right.
func causeOf(err error) error {
	if err == nil {
		return nil
	}
	return errors.Unwrap(err)
}

// cancelSignal is a close-once broadcast channel. A replay subscription's
// cancel signal is read by runReplay and can be closed from three
// independent call sites (initConnection superseding the attachment,
// watchTransportClose, teardown) around the same reconnect, so the close
// itself needs the same sync.Once guard
// frameReceivingSubscriber.dispose uses rather than a bare
// select/default check, which two concurrent closers can both pass.
type cancelSignal struct {
	ch   chan struct{}
	once sync.Once
}

func newCancelSignal() *cancelSignal {
	return &cancelSignal{ch: make(chan struct{})}
}

func (c *cancelSignal) close() {
	c.once.Do(func() { close(c.ch) })
}
