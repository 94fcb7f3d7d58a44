// Package store provides implementations of resume.FramesStore: an
// in-memory, byte-budget-bounded implementation (Memory) and an optional
// durable implementation backed by badgerhold (Badger).
package store

import (
	"sync"

	"github.com/resume-rsocket/rsocket-resume-go/resume"
)

// retained is one appended resumable frame with its store-relative byte
// range, so ReleaseFrames can prune without re-measuring every frame.
type retained struct {
	frame *resume.Frame
	start uint64
	end   uint64
}

// Memory is the default resume.FramesStore: a mutex-guarded ordered list
// of retained frames plus the four position counters. ResumeStream
// replays the retained list and then fans in new appends via a broadcast
// condition variable, so historical and live frames are delivered
// contiguously. Grounded on cla/soclp.Session's channel-plus-sync.Map
// bookkeeping style, generalised here to an ordered slice since positions
// (not message identifiers) are the lookup key.
type Memory struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames []retained

	sentPosition    uint64
	localAck        uint64
	impliedPosition uint64
	remoteAck       uint64 // impliedPosition snapshotted at the last BeginAttachment
	attachmentPos   uint64 // bytes of resumable frames seen this attachment, reset by BeginAttachment

	budget int // byte budget; 0 means unbounded
	closed bool

	liveCancel chan struct{} // closed when a newer ResumeStream supersedes the current one
}

// NewMemory creates an empty Memory store. budget bounds the retained
// bytes in [localAck, sentPosition); a SaveFrames append that would
// exceed it is refused with an error. budget <= 0 means unbounded.
func NewMemory(budget int) *Memory {
	m := &Memory{budget: budget}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// SaveFrames implements resume.FramesStore.
func (m *Memory) SaveFrames(src <-chan *resume.Frame) <-chan error {
	errs := make(chan error, 1)

	go func() {
		defer close(errs)

		for frame := range src {
			if err := m.append(frame); err != nil {
				errs <- err
				frame.Release()
				for f := range src {
					f.Release()
				}
				return
			}
		}
	}()

	return errs
}

func (m *Memory) append(frame *resume.Frame) error {
	if !frame.IsResumable() {
		frame.Release()
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed
	}

	length := uint64(frame.Len())
	if m.budget > 0 && m.sentPosition-m.localAck+length > uint64(m.budget) {
		return errOverflow
	}

	start := m.sentPosition
	m.frames = append(m.frames, retained{frame: frame, start: start, end: start + length})
	m.sentPosition = start + length
	m.cond.Broadcast()

	return nil
}

// ResumeStream implements resume.FramesStore. At most one live subscriber
// is honoured at a time: starting a new ResumeStream cancels the previous
// one's goroutine, waking it even if it is blocked handing off a frame.
func (m *Memory) ResumeStream() (<-chan *resume.Frame, <-chan error) {
	out := make(chan *resume.Frame)
	errs := make(chan error, 1)

	m.mu.Lock()
	if m.liveCancel != nil {
		close(m.liveCancel)
	}
	cancel := make(chan struct{})
	m.liveCancel = cancel
	start := m.localAck
	m.mu.Unlock()

	go m.runResumeStream(out, errs, cancel, start)

	return out, errs
}

func (m *Memory) runResumeStream(out chan *resume.Frame, errs chan error, cancel chan struct{}, next uint64) {
	defer close(out)

	for {
		m.mu.Lock()
		var frame retained
		found := false
		for {
			select {
			case <-cancel:
				m.mu.Unlock()
				return
			default:
			}
			if m.closed {
				m.mu.Unlock()
				close(errs)
				return
			}

			if idx, ok := m.findFromLocked(next); ok {
				frame, found = m.frames[idx], true
				break
			}
			m.cond.Wait()
		}
		m.mu.Unlock()

		if !found {
			continue
		}

		select {
		case out <- frame.frame.Retain():
			next = frame.end
		case <-cancel:
			return
		}
	}
}

func (m *Memory) findFromLocked(position uint64) (int, bool) {
	for i, r := range m.frames {
		if r.start >= position {
			return i, true
		}
	}
	return 0, false
}

// BeginAttachment implements resume.FramesStore. Each new attachment
// mirrors the real resume handshake, where the RESUME/RESUME_OK exchange
// reports the current impliedPosition to the peer; remoteAck snapshots
// that value so /status can show what was last told to the other side.
func (m *Memory) BeginAttachment() {
	m.mu.Lock()
	m.attachmentPos = 0
	m.remoteAck = m.impliedPosition
	m.mu.Unlock()
}

// ResumableFrameReceived implements resume.FramesStore. A resumable frame
// is admitted only if, measured from the start of the current attachment,
// it extends past what the store has already recorded as admitted — the
// same frames replayed again on a later attachment (because the peer had
// not yet learned our latest acknowledgement) fall at-or-before
// impliedPosition and are dropped.
func (m *Memory) ResumableFrameReceived(frame *resume.Frame) bool {
	if !frame.IsResumable() {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	length := uint64(frame.Len())
	m.attachmentPos += length

	if m.attachmentPos > m.impliedPosition {
		m.impliedPosition = m.attachmentPos
		return true
	}
	return false
}

// ReleaseFrames implements resume.FramesStore: advances localAck and
// prunes retained frames fully below it.
func (m *Memory) ReleaseFrames(remotePosition uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if remotePosition <= m.localAck {
		return
	}
	m.localAck = remotePosition

	kept := m.frames[:0]
	for _, r := range m.frames {
		if r.end <= remotePosition {
			r.frame.Release()
			continue
		}
		kept = append(kept, r)
	}
	m.frames = kept
}

func (m *Memory) SentPosition() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sentPosition
}

func (m *Memory) LocalAck() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localAck
}

func (m *Memory) ImpliedPosition() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.impliedPosition
}

func (m *Memory) RemoteAck() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteAck
}

// Close implements resume.FramesStore. Releases every retained frame and
// wakes any blocked ResumeStream subscriber.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, r := range m.frames {
		r.frame.Release()
	}
	m.frames = nil
	m.mu.Unlock()

	m.cond.Broadcast()
	return nil
}
