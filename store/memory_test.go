package store_test

import (
	"testing"
	"time"

	"github.com/resume-rsocket/rsocket-resume-go/resume"
	"github.com/resume-rsocket/rsocket-resume-go/store"
)

const shortWait = 2 * time.Second

func appendFrame(t *testing.T, m *store.Memory, streamID uint32, n int) {
	t.Helper()
	src := make(chan *resume.Frame, 1)
	src <- resume.NewFrame(streamID, make([]byte, n))
	close(src)
	for err := range m.SaveFrames(src) {
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
}

func TestMemoryAppendAdvancesSentPosition(t *testing.T) {
	m := store.NewMemory(0)
	appendFrame(t, m, 1, 10)
	appendFrame(t, m, 1, 5)

	if got := m.SentPosition(); got != 15 {
		t.Fatalf("expected sentPosition 15, got %d", got)
	}
	if got := m.LocalAck(); got != 0 {
		t.Fatalf("expected localAck 0, got %d", got)
	}
}

func TestMemoryBudgetOverflow(t *testing.T) {
	m := store.NewMemory(10)
	appendFrame(t, m, 1, 10)

	src := make(chan *resume.Frame, 1)
	src <- resume.NewFrame(1, make([]byte, 1))
	close(src)

	var got error
	for err := range m.SaveFrames(src) {
		got = err
	}
	if got == nil {
		t.Fatal("expected an overflow error, got nil")
	}
}

func TestMemoryResumeStreamReplaysThenLive(t *testing.T) {
	m := store.NewMemory(0)
	appendFrame(t, m, 1, 10)
	appendFrame(t, m, 1, 10)

	frames, errs := m.ResumeStream()

	for i := 0; i < 2; i++ {
		select {
		case f, ok := <-frames:
			if !ok {
				t.Fatal("frames channel closed early")
			}
			if f.Len() != 10 {
				t.Fatalf("expected a 10-byte replayed frame, got %d", f.Len())
			}
			f.Release()
		case err := <-errs:
			t.Fatalf("unexpected error: %v", err)
		case <-time.After(shortWait):
			t.Fatal("timed out waiting for a replayed frame")
		}
	}

	appendFrame(t, m, 1, 3)

	select {
	case f, ok := <-frames:
		if !ok {
			t.Fatal("frames channel closed before the live append arrived")
		}
		if f.Len() != 3 {
			t.Fatalf("expected the live-appended 3-byte frame, got %d", f.Len())
		}
		f.Release()
	case <-time.After(shortWait):
		t.Fatal("timed out waiting for the live-appended frame")
	}
}

func TestMemoryResumeStreamSupersedesPriorSubscriber(t *testing.T) {
	m := store.NewMemory(0)
	appendFrame(t, m, 1, 4)

	firstFrames, _ := m.ResumeStream()
	first := (<-firstFrames) // drain the one retained frame; the goroutine then parks in cond.Wait
	first.Release()

	secondFrames, _ := m.ResumeStream()
	redelivered := <-secondFrames // the still-retained frame is delivered again from position 0
	redelivered.Release()

	// A fresh append wakes every waiter, including the now-superseded first
	// subscriber, which must observe its cancellation and close rather than
	// deliver another frame.
	appendFrame(t, m, 1, 4)

	select {
	case _, ok := <-firstFrames:
		if ok {
			t.Fatal("expected the superseded subscription's channel to close, not deliver another frame")
		}
	case <-time.After(shortWait):
		t.Fatal("superseded ResumeStream subscriber was never cancelled")
	}

	select {
	case f, ok := <-secondFrames:
		if !ok {
			t.Fatal("expected the newer subscription to keep receiving frames")
		}
		f.Release()
	case <-time.After(shortWait):
		t.Fatal("newer ResumeStream subscriber never received the live append")
	}
}

func TestMemoryReleaseFramesPrunes(t *testing.T) {
	m := store.NewMemory(0)
	appendFrame(t, m, 1, 10)
	appendFrame(t, m, 1, 10)

	m.ReleaseFrames(10)
	if got := m.LocalAck(); got != 10 {
		t.Fatalf("expected localAck 10, got %d", got)
	}

	frames, _ := m.ResumeStream()
	select {
	case f := <-frames:
		if f.Len() != 10 {
			t.Fatalf("expected replay to resume at the retained [10,20) frame, got len %d", f.Len())
		}
		f.Release()
	case <-time.After(shortWait):
		t.Fatal("timed out waiting for the retained frame")
	}
}

func TestMemoryAttachmentRelativeDuplicateDrop(t *testing.T) {
	m := store.NewMemory(0)

	if got := m.RemoteAck(); got != 0 {
		t.Fatalf("expected remoteAck 0 before any attachment, got %d", got)
	}

	m.BeginAttachment()
	if !m.ResumableFrameReceived(resume.NewFrame(1, make([]byte, 20))) {
		t.Fatal("expected the first 20 bytes of an attachment to be admitted")
	}
	if got := m.ImpliedPosition(); got != 20 {
		t.Fatalf("expected impliedPosition 20, got %d", got)
	}
	if got := m.RemoteAck(); got != 0 {
		t.Fatalf("expected remoteAck to still reflect the position at BeginAttachment (0), got %d", got)
	}

	// A new attachment replays the same 20 bytes again before delivering
	// anything new; they must not be re-admitted. It also snapshots
	// remoteAck at the impliedPosition this attachment started with.
	m.BeginAttachment()
	if got := m.RemoteAck(); got != 20 {
		t.Fatalf("expected remoteAck to snapshot impliedPosition 20 at the new attachment, got %d", got)
	}
	if m.ResumableFrameReceived(resume.NewFrame(1, make([]byte, 20))) {
		t.Fatal("expected the replayed 20 bytes to be dropped as a duplicate")
	}
	if !m.ResumableFrameReceived(resume.NewFrame(1, make([]byte, 5))) {
		t.Fatal("expected the 5 bytes following the replay to be admitted")
	}
	if !m.ResumableFrameReceived(resume.NewFrame(1, make([]byte, 10))) {
		t.Fatal("expected bytes past impliedPosition within the new attachment to be admitted")
	}
	if got := m.ImpliedPosition(); got != 35 {
		t.Fatalf("expected impliedPosition to advance to 35, got %d", got)
	}
}

func TestMemoryNonResumableFrameBypassesTracking(t *testing.T) {
	m := store.NewMemory(0)
	if !m.ResumableFrameReceived(resume.NewFrame(0, []byte("K"))) {
		t.Fatal("a non-resumable frame must always be reported as admitted")
	}
	if got := m.ImpliedPosition(); got != 0 {
		t.Fatalf("a non-resumable frame must not move impliedPosition, got %d", got)
	}
}

func TestMemoryCloseReleasesFramesAndWakesSubscribers(t *testing.T) {
	m := store.NewMemory(0)
	appendFrame(t, m, 1, 4)

	frames, errs := m.ResumeStream()
	<-frames // drain the retained frame so the subscriber parks waiting for more

	if err := m.Close(); err != nil {
		t.Fatalf("Close returned an error: %v", err)
	}

	select {
	case _, ok := <-frames:
		if ok {
			t.Fatal("expected frames channel to close after Close")
		}
	case <-time.After(shortWait):
		t.Fatal("ResumeStream subscriber never woke up after Close")
	}
	select {
	case <-errs:
	case <-time.After(shortWait):
		t.Fatal("errs channel never closed after Close")
	}
}
