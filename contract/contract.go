package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself. Can be silly, focused.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// lifecycle events, avoiding the need for manual naming in the Worker
// interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink delivers one outbound event to one connected session.
// Implementations must be non-blocking from the relay's point of view.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IHistoryGateway is the external collaborator persisting chat messages.
// Append failures are best-effort: the relay logs them and keeps going.
type IHistoryGateway interface {
	Append(message domain.ChatMessage) error
	Query(roomID string, limit int) ([]domain.ChatMessage, error)
	QueryByAuthor(sessionID string, limit int) ([]domain.ChatMessage, error)
}
