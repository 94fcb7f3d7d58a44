package reconnect_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/resume-rsocket/rsocket-resume-go/reconnect"
	"github.com/resume-rsocket/rsocket-resume-go/resume"
	"github.com/resume-rsocket/rsocket-resume-go/store"
	"github.com/resume-rsocket/rsocket-resume-go/transport/loopback"
)

const shortWait = 2 * time.Second

func newTestConnection() (*resume.Connection, resume.Transport) {
	local, peer := loopback.Pair("local", "peer")
	conn := resume.New(resume.Client, []byte{0x01}, local, store.NewMemory(0))
	inbound := conn.Receive()
	conn.RequestReceive()
	go func() {
		for range inbound {
		}
	}()
	return conn, peer
}

func TestManagerReattachesAfterTransientFailures(t *testing.T) {
	conn, _ := newTestConnection()
	defer conn.Dispose(nil)

	var attempts int32
	dial := func(_ context.Context) (resume.Transport, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return nil, errors.New("dial refused")
		}
		newLocal, _ := loopback.Pair("local2", "peer2")
		return newLocal, nil
	}

	mgr := reconnect.New(conn, dial, 20*time.Millisecond, 0)
	mgr.Start()
	defer mgr.Stop()

	conn.Disconnect()

	deadline := time.After(shortWait)
	for {
		select {
		case ev := <-mgr.Events():
			if ev.Err == nil {
				if atomic.LoadInt32(&attempts) < 3 {
					t.Fatalf("succeeded after only %d attempts", attempts)
				}
				return
			}
		case <-deadline:
			t.Fatal("manager never reported a successful reattach")
		}
	}
}

func TestManagerGivesUpAfterMaxAttempts(t *testing.T) {
	conn, _ := newTestConnection()
	defer conn.Dispose(nil)

	dial := func(_ context.Context) (resume.Transport, error) {
		return nil, errors.New("dial refused")
	}

	mgr := reconnect.New(conn, dial, 5*time.Millisecond, 3)
	mgr.Start()
	defer mgr.Stop()

	conn.Disconnect()

	deadline := time.After(shortWait)
	for {
		select {
		case ev := <-mgr.Events():
			if ev.GaveUp {
				if ev.Attempt != 3 {
					t.Fatalf("expected to give up on attempt 3, got %d", ev.Attempt)
				}
				return
			}
		case <-deadline:
			t.Fatal("manager never gave up")
		}
	}
}

func TestManagerStopIsIdempotentAndSynchronous(t *testing.T) {
	conn, _ := newTestConnection()
	defer conn.Dispose(nil)

	mgr := reconnect.New(conn, func(_ context.Context) (resume.Transport, error) {
		return nil, errors.New("unused")
	}, time.Second, 0)
	mgr.Start()

	mgr.Stop()
	mgr.Stop()
}
