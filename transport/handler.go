package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gofiber/contrib/websocket"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/runtime"
	"chat-relay/sink"
)

// Handler serves one websocket connection per session. The read loop
// decodes envelopes into commands in arrival order (per-session FIFO); a
// dedicated write loop is the only goroutine touching the connection's
// write side.
type Handler struct {
	relay      *runtime.Relay
	codec      *Codec
	log        *slog.Logger
	bufferSize int
}

func NewHandler(relay *runtime.Relay, log *slog.Logger, bufferSize int) *Handler {
	return &Handler{
		relay:      relay,
		codec:      NewCodec(),
		log:        log,
		bufferSize: bufferSize,
	}
}

// HandleWebSocket blocks until the client disconnects or a network error
// occurs. Cleanup runs through the relay's disconnect path, which is
// idempotent, so a duplicate close signal is harmless.
func (h *Handler) HandleWebSocket(conn *websocket.Conn) {
	channel := sink.NewChannel(h.bufferSize)
	sessionID := h.relay.Register(channel)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		channel.Close()
		h.relay.HandleCommand(context.Background(), sessionID, domain.Disconnect{})
		_ = conn.Close()
	}()

	go h.writeLoop(ctx, conn, channel, sessionID)

	h.log.Info(fmt.Sprintf("Socket connected: %s", sessionID))
	h.relay.HandleCommand(ctx, sessionID, domain.Connect{})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("Websocket read error", "session_id", sessionID, "error", err)
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			h.sendError(ctx, channel, "Invalid message format")
			continue
		}

		cmd, err := h.codec.Decode(env)
		if err != nil {
			h.sendError(ctx, channel, err.Error())
			continue
		}

		h.relay.HandleCommand(ctx, sessionID, cmd)
	}

	h.log.Info(fmt.Sprintf("Socket disconnected: %s", sessionID))
}

// writeLoop drains the session's sink into the connection. It exits when
// the sink closes, the context is canceled, or a write fails.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, channel *sink.Channel, sessionID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-channel.Done():
			return
		case evt := <-channel.Events:
			env, err := Encode(evt)
			if err != nil {
				h.log.Error("Failed to encode outbound event", "session_id", sessionID, "error", err)
				continue
			}
			payload, err := json.Marshal(env)
			if err != nil {
				h.log.Error("Failed to marshal envelope", "session_id", sessionID, "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.log.Debug("Failed to push event to socket", "session_id", sessionID, "error", err)
				return
			}
		}
	}
}

// sendError routes the error through the session's own sink so the write
// loop stays the single writer on the connection.
func (h *Handler) sendError(ctx context.Context, channel *sink.Channel, message string) {
	_ = channel.Consume(ctx, event.Error{Message: message})
}
