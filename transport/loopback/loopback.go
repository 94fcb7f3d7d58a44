// Package loopback provides an in-memory resume.Transport pair connected
// back-to-back, the way net.Pipe connects two net.Conns. It carries no
// third-party dependency and exists purely as test and demo scaffolding —
// the wire encoding and real network transports are out of scope for the
// resumption layer itself.
package loopback

import (
	"net"
	"sync"

	"github.com/resume-rsocket/rsocket-resume-go/resume"
)

// addr is a trivial net.Addr for a loopback endpoint.
type addr string

func (a addr) Network() string { return "loopback" }
func (a addr) String() string  { return string(a) }

// Pair returns two resume.Transports, a and b, such that every frame sent
// on a is received on b and vice versa. Closing either side closes both.
// The channels returned by Receive are never closed; a closed side is
// reported only through OnClose.
func Pair(nameA, nameB string) (a, b resume.Transport) {
	atob := make(chan *resume.Frame, 256)
	btoa := make(chan *resume.Frame, 256)

	ta := &transport{out: atob, in: btoa, remote: addr(nameB), closed: make(chan struct{})}
	tb := &transport{out: btoa, in: atob, remote: addr(nameA), closed: make(chan struct{})}
	ta.peer = tb
	tb.peer = ta
	return ta, tb
}

type transport struct {
	out  chan *resume.Frame
	in   chan *resume.Frame
	peer *transport

	remote net.Addr

	mu        sync.Mutex
	disposed  bool
	closed    chan struct{}
	closeOnce sync.Once
}

func (t *transport) SendFrame(frame *resume.Frame) {
	t.mu.Lock()
	disposed := t.disposed
	t.mu.Unlock()
	if disposed {
		frame.Release()
		return
	}
	select {
	case t.out <- frame:
	case <-t.closed:
		frame.Release()
	}
}

func (t *transport) Receive() <-chan *resume.Frame {
	return t.in
}

func (t *transport) OnClose() <-chan struct{} {
	return t.closed
}

func (t *transport) Dispose() {
	first := false
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.disposed = true
		t.mu.Unlock()
		close(t.closed)
		first = true
	})
	// The peer is disposed outside closeOnce: its own Dispose calls back
	// into this one, which must find closeOnce already done rather than
	// re-enter it.
	if first && t.peer != nil {
		t.peer.Dispose()
	}
}

func (t *transport) SendErrorAndClose(err error) {
	t.Dispose()
}

func (t *transport) RemoteAddress() net.Addr {
	return t.remote
}

func (t *transport) Alloc() resume.Allocator {
	return resume.DefaultAllocator
}
