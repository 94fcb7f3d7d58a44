package resume

import "sync"

// closedSink is the unbounded queue backing OnActiveConnectionClosed: a
// Publisher for a sequence of connection indices, one per lost transport,
// that never emits an error and completes (its Out channel closes) once
// the Connection is disposed. There is a single Out channel, so each
// index is received by exactly one reader. Same shape as outboundQueue minus the
// priority lane — a single FIFO the reconnect driver drains at its own
// pace without ever blocking the dispatcher that pushes into it.
type closedSink struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []uint64
	closed bool

	out chan uint64
}

func newClosedSink() *closedSink {
	s := &closedSink{out: make(chan uint64)}
	s.cond = sync.NewCond(&s.mu)
	go s.drain()
	return s
}

func (s *closedSink) Push(connectionIndex uint64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, connectionIndex)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *closedSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *closedSink) Out() <-chan uint64 {
	return s.out
}

func (s *closedSink) drain() {
	defer close(s.out)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		idx := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.out <- idx
	}
}
