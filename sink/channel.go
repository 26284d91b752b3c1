package sink

import (
	"context"
	"sync"

	"chat-relay/domain/event"
	"chat-relay/errors"
)

// Channel buffers outbound events for one connected session. The transport's
// write loop drains Events; the relay's fan-out sees a full buffer as a
// dropped event, never as backpressure on other sessions.
type Channel struct {
	Events    chan event.DomainEvent
	closeOnce sync.Once
	done      chan struct{}
}

func NewChannel(bufferSize int) *Channel {
	return &Channel{
		Events: make(chan event.DomainEvent, bufferSize),
		done:   make(chan struct{}),
	}
}

// Consume is called by the relay's fan-out. It redirects the event through
// the channel owned by this connection; the transport write loop takes it
// from there.
func (s *Channel) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case <-s.done:
		return nil
	case s.Events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.ErrSinkFull
	}
}

// Close releases the write loop. Safe to call more than once; a transport
// may tear down the same connection twice.
func (s *Channel) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Done is closed when the sink is closed.
func (s *Channel) Done() <-chan struct{} {
	return s.done
}
