package workers

import (
	"context"
	"fmt"
	"log/slog"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/observability"
)

// HistoryWriter drains the relay's persistence queue into the history
// gateway. Writes are best-effort: a failed append is counted and logged,
// and the writer keeps draining so one storage outage never stalls the
// queue for later messages.
type HistoryWriter struct {
	gateway  contract.IHistoryGateway
	messages <-chan domain.ChatMessage
	stats    *observability.Stats
	log      *slog.Logger
}

func NewHistoryWriter(gateway contract.IHistoryGateway, messages <-chan domain.ChatMessage,
	stats *observability.Stats, log *slog.Logger) *HistoryWriter {
	return &HistoryWriter{gateway: gateway, messages: messages, stats: stats, log: log}
}

func (w *HistoryWriter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping history writer")
			return nil
		case message, ok := <-w.messages:
			if !ok {
				return nil
			}
			if err := w.gateway.Append(message); err != nil {
				w.stats.IncrStorageFailures()
				w.log.Warn(fmt.Sprintf("Failed to persist message %s", message.ID), "error", err)
			}
		}
	}
}
