package resume

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// frameReceivingSubscriber is a short-lived adapter paired 1:1 with a
// transport attachment. It applies the inbound de-duplication routing
// rule: connection frames (stream id zero) pass straight through, and
// resumable frames are admitted to the session only if the store reports
// they advance impliedPosition.
//
// On transport error or completion it latches to a terminated marker and
// ignores further frames; it never propagates the termination to the
// session itself — a transport close is expected behaviour under
// resumption and is reported separately via onActiveConnectionClosed.
type frameReceivingSubscriber struct {
	store  FramesStore
	actual chan<- *Frame
	logger *log.Entry

	disposeOnce sync.Once
	done        chan struct{}
}

func newFrameReceivingSubscriber(store FramesStore, actual chan<- *Frame, logger *log.Entry) *frameReceivingSubscriber {
	return &frameReceivingSubscriber{
		store:  store,
		actual: actual,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// run consumes in until it closes (transport lost) or dispose is called.
// It blocks, so callers run it in its own goroutine.
func (r *frameReceivingSubscriber) run(in <-chan *Frame) {
	for {
		select {
		case <-r.done:
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			r.onNext(frame)
		}
	}
}

func (r *frameReceivingSubscriber) onNext(frame *Frame) {
	if !frame.IsResumable() {
		r.forward(frame)
		return
	}

	if r.store.ResumableFrameReceived(frame) {
		r.forward(frame)
	} else {
		r.logger.WithField("stream-id", frame.StreamID()).Debug("Dropping duplicate replayed frame")
		frame.Release()
	}
}

func (r *frameReceivingSubscriber) forward(frame *Frame) {
	select {
	case r.actual <- frame:
	case <-r.done:
		frame.Release()
	}
}

// dispose cancels this subscriber. Idempotent.
func (r *frameReceivingSubscriber) dispose() {
	r.disposeOnce.Do(func() { close(r.done) })
}
