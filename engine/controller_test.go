package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"
)

// fakeSource yields a fixed slice of messages then reports exhaustion. It
// records every Ack/Nack it receives for assertions.
type fakeSource struct {
	mu          sync.Mutex
	msgs        []Message
	next        int
	acked       []DeliveryTag
	nacked      []DeliveryTag
	startErr    error
	stepErr     error // returned once, on the very next Step call, then cleared
	stepErrSeen bool
}

func newFakeSource(msgs []Message) *fakeSource { return &fakeSource{msgs: msgs} }

func (s *fakeSource) Start(ctx context.Context) error { return s.startErr }

func (s *fakeSource) Step(ctx context.Context) (Receipt, StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stepErr != nil && !s.stepErrSeen {
		s.stepErrSeen = true
		return Receipt{}, StepIdle, s.stepErr
	}
	if s.next >= len(s.msgs) {
		return Receipt{}, StepExhausted, nil
	}
	m := s.msgs[s.next]
	tag := NewDeliveryTag(1, s.next)
	s.next++
	return Receipt{Message: m, Tag: tag}, StepMessage, nil
}

func (s *fakeSource) Ack(tag DeliveryTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, tag)
	return nil
}

func (s *fakeSource) Nack(tag DeliveryTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nacked = append(s.nacked, tag)
	return nil
}

func (s *fakeSource) Stop() error { return nil }

// fakeSink resolves every Token immediately unless delay > 0, in which
// case it resolves after `delay` has elapsed.
type fakeSink struct {
	mu       sync.Mutex
	received []Message
	delay    time.Duration
}

func (s *fakeSink) Start(ctx context.Context) error { return nil }

func (s *fakeSink) Send(ctx context.Context, msg Message) (Token, error) {
	s.mu.Lock()
	s.received = append(s.received, msg)
	s.mu.Unlock()

	if s.delay == 0 {
		return newResolvedToken(nil), nil
	}
	tok := newPendingToken()
	go func() {
		time.Sleep(s.delay)
		tok.resolve(nil)
	}()
	return tok, nil
}

func (s *fakeSink) Flush(ctx context.Context) error { return nil }
func (s *fakeSink) Stop() error                     { return nil }

func TestControllerSourceExhausted(t *testing.T) {
	assert := tdd.New(t)

	msgs := make([]Message, 20)
	for i := range msgs {
		msgs[i] = Message{Body: []byte{byte(i)}}
	}
	src := newFakeSource(msgs)
	sink := &fakeSink{}

	ctrl := NewController(src, sink, nil, NewWindow(4), Config{
		TimeoutConnect: time.Second,
		TimeoutLinger:  time.Second,
	})

	stats, err := ctrl.Run(context.Background())
	assert.Nil(err)
	assert.Equal(uint64(20), stats.Received)
	assert.Equal(uint64(20), stats.Sent)
	assert.Equal(uint64(20), stats.Acked)
	assert.Len(sink.received, 20)
	assert.Len(src.acked, 20)
}

func TestControllerCountStop(t *testing.T) {
	assert := tdd.New(t)

	msgs := make([]Message, 100)
	src := newFakeSource(msgs)
	sink := &fakeSink{}

	ctrl := NewController(src, sink, nil, NewWindow(8), Config{
		Stop:           StopConditions{Count: 10},
		TimeoutConnect: time.Second,
		TimeoutLinger:  time.Second,
	})

	stats, err := ctrl.Run(context.Background())
	assert.Nil(err)
	assert.Equal(uint64(10), stats.Acked)
}

func TestControllerDropReasonLogged(t *testing.T) {
	assert := tdd.New(t)

	msgs := []Message{
		{Header: map[string]string{"priority": "low"}},
		{Header: map[string]string{"priority": "high"}},
		{Header: map[string]string{"priority": "low"}},
	}
	src := newFakeSource(msgs)
	sink := &fakeSink{}
	tr, err := LookupTransform("reject-on-header")
	assert.Nil(err)

	ctrl := NewController(src, sink, tr, NewWindow(4), Config{
		TimeoutConnect: time.Second,
		TimeoutLinger:  time.Second,
		TransformData:  []string{"priority", "low", "skip"},
	})

	stats, runErr := ctrl.Run(context.Background())
	assert.Nil(runErr)
	assert.Equal(uint64(3), stats.Received)
	assert.Equal(uint64(1), stats.Sent)
	assert.Equal(uint64(2), stats.Dropped)
	assert.Equal(uint64(3), stats.Acked)
	assert.Len(sink.received, 1)
}

func TestControllerWindowNeverExceedsSize(t *testing.T) {
	assert := tdd.New(t)

	msgs := make([]Message, 40)
	src := newFakeSource(msgs)
	sink := &fakeSink{delay: 10 * time.Millisecond}

	maxOutstanding := 0
	w := NewWindow(4)
	ctrl := NewController(src, sink, nil, w, Config{
		TimeoutConnect: time.Second,
		TimeoutLinger:  2 * time.Second,
		// Quit is polled at the top of every step, so it doubles as a
		// probe of the window's occupancy across the run.
		Quit: func() bool {
			if n := w.Outstanding(); n > maxOutstanding {
				maxOutstanding = n
			}
			return false
		},
	})

	stats, err := ctrl.Run(context.Background())
	assert.Nil(err)
	assert.Equal(uint64(40), stats.Acked)
	assert.LessOrEqual(maxOutstanding, 4)
}

func TestControllerProtocolErrorFatalOnFirstReceipt(t *testing.T) {
	assert := tdd.New(t)

	src := newFakeSource([]Message{{Body: []byte("hello")}})
	src.stepErr = ProtocolError(assert.AnError)
	sink := &fakeSink{}

	ctrl := NewController(src, sink, nil, NewWindow(4), Config{
		TimeoutConnect: time.Second,
		TimeoutLinger:  time.Second,
	})

	stats, runErr := ctrl.Run(context.Background())
	assert.NotNil(runErr, "a protocol error on the first receipt must be fatal, not retried")
	assert.Equal(uint64(0), stats.Received)
}

func TestControllerTransportErrorRetriedOnFirstReceipt(t *testing.T) {
	assert := tdd.New(t)

	msgs := []Message{{Body: []byte("hello")}}
	src := newFakeSource(msgs)
	src.stepErr = TransportError(assert.AnError)
	sink := &fakeSink{}

	ctrl := NewController(src, sink, nil, NewWindow(4), Config{
		TimeoutConnect: time.Second,
		TimeoutLinger:  time.Second,
	})

	stats, runErr := ctrl.Run(context.Background())
	assert.Nil(runErr, "a transport error on the very first receipt should be retried, not fatal")
	assert.Equal(uint64(1), stats.Received)
	assert.Equal(uint64(1), stats.Acked)
}
