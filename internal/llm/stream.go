package llm

import (
	"context"
	"io"
	"sync"
)

// emitFunc delivers an event to the consumer. It returns false once the
// stream has been closed or its context cancelled.
type emitFunc func(StreamEvent) bool

// eventStream runs a producer in its own goroutine and hands its events to
// Recv. SDK-backed transports use it to turn iterator-style APIs into a Stream.
type eventStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan StreamEvent
	done   chan struct{}
	err    error
	once   sync.Once
}

func newEventStream(ctx context.Context, run func(ctx context.Context, emit emitFunc) error) *eventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan StreamEvent, 16),
		done:   make(chan struct{}),
	}
	emit := func(ev StreamEvent) bool {
		select {
		case s.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		if err := run(ctx, emit); err != nil {
			s.err = err
			return
		}
		emit(EndEvent{})
	}()
	return s
}

func (s *eventStream) Recv() (StreamEvent, error) {
	ev, ok := <-s.events
	if ok {
		return ev, nil
	}
	<-s.done
	if s.err != nil {
		if s.ctx.Err() != nil {
			return nil, s.ctx.Err()
		}
		return nil, s.err
	}
	return nil, io.EOF
}

func (s *eventStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		for range s.events {
		}
		<-s.done
	})
	return nil
}
