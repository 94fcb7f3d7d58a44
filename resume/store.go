package resume

// FramesStore is the Resumable Frames Store collaborator a Connection
// composes. Implementations must provide: strict append order, monotonic
// position advancement, release of frame reference counts exactly once
// per pruned frame, and a guarantee that a concurrent appender/replayer
// cannot observe out-of-order offsets. See the store package for the
// in-memory and badger-backed implementations.
type FramesStore interface {
	// SaveFrames consumes src, a channel of outbound resumable frames
	// (Connection filters stream-id-zero frames out before they reach
	// here and forwards those directly to the active transport instead,
	// since they are never tracked for replay). Every frame received is
	// appended to the durable log and advances sentPosition by the
	// frame's byte length. The returned channel is closed after src
	// closes; a non-nil error sent before closing means the store
	// refused an append (e.g. on overflow) and the caller must terminate
	// the connection.
	SaveFrames(src <-chan *Frame) <-chan error

	// ResumeStream emits, in append order, every retained frame in
	// [localAck, sentPosition) and then continues live, emitting newly
	// appended frames as SaveFrames records them. This is the only path
	// by which a resumable frame ever reaches a transport: Connection's
	// runReplay forwards everything ResumeStream emits to whichever
	// transport is currently active. Ordering between historical and
	// live frames is contiguous. At most one live subscription exists at
	// a time; a new call cancels the prior subscription but does not
	// affect appends.
	//
	// The returned frames channel is closed when the subscription ends.
	// If it ends because of a store failure, exactly one error is sent on
	// the errs channel first (which is then closed too); if it ends
	// because the store considers itself done (an anomaly — the store is
	// meant to be open for the connection's lifetime) errs is closed
	// without a value.
	ResumeStream() (frames <-chan *Frame, errs <-chan error)

	// BeginAttachment resets the store's attachment-relative receive
	// cursor to zero. Connection calls this exactly once per transport
	// attachment, before the new frameReceivingSubscriber consumes any
	// frame from it, so ResumableFrameReceived can tell a frame replayed
	// again on the new transport (attachment-relative position falls
	// at-or-before impliedPosition) from one that is genuinely new.
	BeginAttachment()

	// ResumableFrameReceived is called for each inbound stream-id-nonzero
	// frame of the current attachment, in arrival order. It returns true
	// if the frame advances impliedPosition (first-time delivery) or
	// false if it falls at-or-before impliedPosition (a duplicate
	// replay delivered again because the peer had not yet learned our
	// latest acknowledgement).
	ResumableFrameReceived(frame *Frame) bool

	// ReleaseFrames advances localAck to remotePosition and releases
	// frames below it.
	ReleaseFrames(remotePosition uint64)

	SentPosition() uint64
	LocalAck() uint64
	ImpliedPosition() uint64

	// RemoteAck returns the impliedPosition value most recently reported
	// to the peer, snapshotted by BeginAttachment on every new attachment
	// (the point at which the resume handshake would carry it).
	RemoteAck() uint64

	// Close releases all resources held by the store. It does not need
	// to be idempotent; callers (Connection) call it at most once.
	Close() error
}
