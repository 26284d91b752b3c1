package sink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-relay/domain/event"
	"chat-relay/errors"
)

func TestChannel_Consume_Buffers_Events(t *testing.T) {
	req := require.New(t)
	channel := NewChannel(2)
	ctx := context.Background()

	req.NoError(channel.Consume(ctx, event.UserLeft{SessionID: "a"}))
	req.NoError(channel.Consume(ctx, event.UserLeft{SessionID: "b"}))

	first := <-channel.Events
	req.Equal(event.UserLeft{SessionID: "a"}, first)
}

func TestChannel_Consume_Full_Buffer_Drops(t *testing.T) {
	req := require.New(t)
	channel := NewChannel(1)
	ctx := context.Background()

	req.NoError(channel.Consume(ctx, event.UserLeft{SessionID: "a"}))

	// The relay must never block on a slow consumer
	err := channel.Consume(ctx, event.UserLeft{SessionID: "b"})
	req.ErrorIs(err, errors.ErrSinkFull)
}

func TestChannel_Consume_After_Close_Is_NoOp(t *testing.T) {
	req := require.New(t)
	channel := NewChannel(1)

	channel.Close()
	// A second close must be safe; transports can tear down twice
	channel.Close()

	req.NoError(channel.Consume(context.Background(), event.UserLeft{SessionID: "a"}))
	select {
	case <-channel.Done():
	default:
		req.Fail("Done should be closed")
	}
}
