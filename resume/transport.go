package resume

import "net"

// Transport is the external collaborator a Connection composes: a
// concrete byte-moving channel with a uniform duplex interface. Its wire
// encoding, TLS setup, and concrete network implementation (TCP,
// WebSocket, a local pipe) are out of scope for this layer — see
// resume.Transport implementations in the transport/ and test packages
// for concrete adapters.
type Transport interface {
	// SendFrame is fire-and-forget; ownership of frame transfers to the
	// Transport. frame.StreamID() carries the routing information the
	// wire-level frame header codec (out of scope here) would otherwise
	// have to parse back out of the payload.
	SendFrame(frame *Frame)
	// Receive returns the inbound frame channel. It is read at most once
	// per Transport instance and is closed when the transport is lost.
	Receive() <-chan *Frame
	// OnClose is closed once the Transport is fully torn down.
	OnClose() <-chan struct{}
	// Dispose idempotently closes the Transport.
	Dispose()
	// SendErrorAndClose emits a protocol error frame, then closes.
	SendErrorAndClose(err error)
	// RemoteAddress returns the peer address, if known.
	RemoteAddress() net.Addr
	// Alloc returns the Allocator bound to this Transport.
	Alloc() Allocator
}

// Allocator is the frame allocator bound to a Transport. Go's garbage
// collector makes an explicit reference-counted buffer pool unnecessary
// for correctness (unlike the Netty ByteBufAllocator this mirrors); this
// seam only exists so Connection.Alloc() has something real to delegate
// to, matching the external interface shape of the source implementation.
type Allocator interface {
	NewFrame(streamID uint32, payload []byte) *Frame
}

type defaultAllocator struct{}

func (defaultAllocator) NewFrame(streamID uint32, payload []byte) *Frame {
	return NewFrame(streamID, payload)
}

// DefaultAllocator is a stateless Allocator used by Transports that have
// no pooling of their own.
var DefaultAllocator Allocator = defaultAllocator{}

// disposedTransport is the sentinel occupying Connection.active once
// terminally disposed, distinguishing "disposed" from "uninitialised"
// without a nil check at every call site — the same device the source
// implementation uses its DisposedConnection singleton for.
type disposedTransport struct{}

func (disposedTransport) SendFrame(*Frame) {}

func (disposedTransport) Receive() <-chan *Frame {
	return make(chan *Frame) // never sends, never closes
}

func (disposedTransport) OnClose() <-chan struct{} {
	return make(chan struct{}) // never closes
}

func (disposedTransport) Dispose() {}

func (disposedTransport) SendErrorAndClose(error) {}

func (disposedTransport) RemoteAddress() net.Addr { return nil }

func (disposedTransport) Alloc() Allocator { return DefaultAllocator }

// isDisposedTransport reports whether t is the disposed sentinel.
func isDisposedTransport(t Transport) bool {
	_, ok := t.(disposedTransport)
	return ok
}
