package resume

import "sync/atomic"

// Frame is an opaque, reference-counted protocol frame. The core reads
// only its stream id; decoding composite metadata, MIME type tables, or
// any other part of the payload is the job of the frame header codec, an
// external collaborator that is out of scope for this layer.
//
// Frames are shared-ownership buffers. A Frame handed to SendFrame or
// returned from a Transport's Receive channel is owned by exactly one
// party at a time; Retain/Release make the handoffs explicit instead of
// relying on a garbage collector to guess when a buffer is truly done.
type Frame struct {
	streamID uint32
	payload  []byte
	refCount int32
}

// NewFrame wraps payload as a Frame for the given stream id with an
// initial reference count of one. Stream id zero denotes a connection
// frame, which is never resumable; any other value is a resumable frame
// subject to the store and replay protocol.
func NewFrame(streamID uint32, payload []byte) *Frame {
	return &Frame{streamID: streamID, payload: payload, refCount: 1}
}

// StreamID returns the frame's stream id.
func (f *Frame) StreamID() uint32 {
	return f.streamID
}

// Payload returns the frame's raw bytes. Do not retain slices of it past
// a Release that brings the reference count to zero.
func (f *Frame) Payload() []byte {
	return f.payload
}

// Len returns the byte length of the frame's payload, the unit the
// position counters (sentPosition, localAck, impliedPosition) are
// measured in.
func (f *Frame) Len() int {
	return len(f.payload)
}

// IsResumable reports whether this frame is subject to the resumption
// store and replay protocol: any frame with a nonzero stream id.
func (f *Frame) IsResumable() bool {
	return f.streamID != 0
}

// Retain increments the reference count and returns the same Frame, for
// chaining at a handoff boundary, e.g. out <- frame.Retain().
func (f *Frame) Retain() *Frame {
	atomic.AddInt32(&f.refCount, 1)
	return f
}

// Release decrements the reference count and reports whether this call
// brought it to zero. Once a Release returns true, the payload must not
// be read again by the caller that released it.
func (f *Frame) Release() bool {
	return atomic.AddInt32(&f.refCount, -1) == 0
}

// RefCount returns the current reference count, observed by tests to
// assert that a Frame has been fully released.
func (f *Frame) RefCount() int32 {
	return atomic.LoadInt32(&f.refCount)
}
