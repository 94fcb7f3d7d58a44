package store_test

import (
	"testing"
	"time"

	"github.com/resume-rsocket/rsocket-resume-go/resume"
	"github.com/resume-rsocket/rsocket-resume-go/store"
)

func appendBadgerFrame(t *testing.T, b *store.Badger, streamID uint32, payload []byte) {
	t.Helper()
	src := make(chan *resume.Frame, 1)
	src <- resume.NewFrame(streamID, payload)
	close(src)
	for err := range b.SaveFrames(src) {
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
}

func TestBadgerAppendAndResume(t *testing.T) {
	b, err := store.NewBadger(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	appendBadgerFrame(t, b, 1, []byte("0123456789"))
	appendBadgerFrame(t, b, 1, []byte("abcdefghij"))

	if got := b.SentPosition(); got != 20 {
		t.Fatalf("expected sentPosition 20, got %d", got)
	}

	frames, errs := b.ResumeStream()
	for i, want := range []string{"0123456789", "abcdefghij"} {
		select {
		case f, ok := <-frames:
			if !ok {
				t.Fatalf("frames channel closed early at frame %d", i)
			}
			if string(f.Payload()) != want {
				t.Fatalf("frame %d: expected %q, got %q", i, want, f.Payload())
			}
			f.Release()
		case err := <-errs:
			t.Fatalf("unexpected error: %v", err)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestBadgerCompressedRoundTrip(t *testing.T) {
	b, err := store.NewBadger(t.TempDir(), true)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 7)
	}
	appendBadgerFrame(t, b, 2, payload)

	frames, _ := b.ResumeStream()
	select {
	case f := <-frames:
		if len(f.Payload()) != len(payload) {
			t.Fatalf("expected %d bytes back, got %d", len(payload), len(f.Payload()))
		}
		for i := range payload {
			if f.Payload()[i] != payload[i] {
				t.Fatalf("payload mismatch at byte %d", i)
			}
		}
		f.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the compressed frame to replay")
	}
}

func TestBadgerReleaseFramesPrunesRecords(t *testing.T) {
	b, err := store.NewBadger(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	appendBadgerFrame(t, b, 1, make([]byte, 10))
	appendBadgerFrame(t, b, 1, make([]byte, 10))

	b.ReleaseFrames(10)
	if got := b.LocalAck(); got != 10 {
		t.Fatalf("expected localAck 10, got %d", got)
	}

	frames, _ := b.ResumeStream()
	select {
	case f := <-frames:
		if f.Len() != 10 {
			t.Fatalf("expected replay to resume with the retained 10-byte record, got len %d", f.Len())
		}
		f.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the retained record")
	}
}

func TestBadgerAttachmentRelativeDuplicateDrop(t *testing.T) {
	b, err := store.NewBadger(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	b.BeginAttachment()
	if !b.ResumableFrameReceived(resume.NewFrame(1, make([]byte, 20))) {
		t.Fatal("expected the first 20 bytes of an attachment to be admitted")
	}

	b.BeginAttachment()
	if got := b.RemoteAck(); got != 20 {
		t.Fatalf("expected remoteAck to snapshot impliedPosition 20 at the new attachment, got %d", got)
	}
	if b.ResumableFrameReceived(resume.NewFrame(1, make([]byte, 20))) {
		t.Fatal("expected the replayed 20 bytes to be dropped as a duplicate")
	}
	if !b.ResumableFrameReceived(resume.NewFrame(1, make([]byte, 5))) {
		t.Fatal("expected bytes past impliedPosition to be admitted")
	}
}

func TestBadgerRestoresPositionsOnReopen(t *testing.T) {
	dir := t.TempDir()

	b, err := store.NewBadger(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	appendBadgerFrame(t, b, 1, make([]byte, 10))
	appendBadgerFrame(t, b, 1, make([]byte, 15))
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := store.NewBadger(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	if got := reopened.SentPosition(); got != 25 {
		t.Fatalf("expected sentPosition to survive reopen as 25, got %d", got)
	}
}
