// This file defines chat messages and related rules.
// Messages are immutable once the relay has constructed them.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindSystem MessageKind = "system"
	KindImage  MessageKind = "image"
	KindFile   MessageKind = "file"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindSystem, KindImage, KindFile:
		return true
	}
	return false
}

// ChatMessage represents an immutable chat event. The relay assigns the ID
// and the timestamp; clients never do.
type ChatMessage struct {
	ID          uuid.UUID
	SessionID   string
	DisplayName string
	Content     string
	CreatedAt   time.Time
	RoomID      string
	Kind        MessageKind
}
