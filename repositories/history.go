package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"chat-relay/domain"
)

const defaultQueryLimit = 50

// HistoryRepository persists chat messages in BadgerDB.
//
// Room keys are formatted as "msg:{room_id}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  2. Prevent data loss by using the UUID as a collision disconnector if
//     two messages arrive at the same nanosecond.
//
// Each message is also written under "usr:{session_id}:..." so per-author
// queries stay prefix scans.
type HistoryRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewHistoryRepository(db *badger.DB, log *slog.Logger) HistoryRepository {
	return HistoryRepository{db: db, log: log}
}

type storedMessage struct {
	ID         string `json:"id"`
	Room       string `json:"room"`
	Author     string `json:"author"`
	AuthorName string `json:"author_name"`
	Content    string `json:"content"`
	Kind       string `json:"kind"`
	At         int64  `json:"at"`
}

func (r HistoryRepository) Append(message domain.ChatMessage) error {
	bytes, err := json.Marshal(toStoredMessage(message))
	if err != nil {
		return err
	}
	suffix := fmt.Sprintf("%019d:%s", message.CreatedAt.UnixNano(), message.ID)
	roomKey := fmt.Sprintf("msg:%s:%s", message.RoomID, suffix)
	authorKey := fmt.Sprintf("usr:%s:%s", message.SessionID, suffix)

	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(roomKey), bytes); err != nil {
			return err
		}
		return txn.Set([]byte(authorKey), bytes)
	})
}

// Query retrieves up to limit messages for a room, most recent first.
// Thanks to the padded timestamp in the key, a reverse prefix scan returns
// them already sorted by time.
func (r HistoryRepository) Query(roomID string, limit int) ([]domain.ChatMessage, error) {
	return r.scan(fmt.Sprintf("msg:%s:", roomID), limit)
}

// QueryByAuthor retrieves up to limit messages authored by a session,
// most recent first.
func (r HistoryRepository) QueryByAuthor(sessionID string, limit int) ([]domain.ChatMessage, error) {
	return r.scan(fmt.Sprintf("usr:%s:", sessionID), limit)
}

func (r HistoryRepository) scan(prefixStr string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var payloads [][]byte
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the newest possible key for this prefix, then walk
		// backwards.
		seekKey := append([]byte(prefixStr), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if len(payloads) == limit {
				r.log.Debug(fmt.Sprintf("Maximum of %d messages reached", limit))
				break
			}
			err := it.Item().Value(func(value []byte) error {
				payloads = append(payloads, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	messages := make([]domain.ChatMessage, 0, len(payloads))
	for _, payload := range payloads {
		var stored storedMessage
		if err = json.Unmarshal(payload, &stored); err != nil {
			return nil, err
		}
		message, err := fromStoredMessage(stored)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func toStoredMessage(message domain.ChatMessage) storedMessage {
	return storedMessage{
		ID:         message.ID.String(),
		Room:       message.RoomID,
		Author:     message.SessionID,
		AuthorName: message.DisplayName,
		Content:    message.Content,
		Kind:       string(message.Kind),
		At:         message.CreatedAt.UnixNano(),
	}
}

func fromStoredMessage(stored storedMessage) (domain.ChatMessage, error) {
	parsedID, err := uuid.Parse(stored.ID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return domain.ChatMessage{
		ID:          parsedID,
		SessionID:   stored.Author,
		DisplayName: stored.AuthorName,
		Content:     stored.Content,
		CreatedAt:   time.Unix(0, stored.At).UTC(),
		RoomID:      stored.Room,
		Kind:        domain.MessageKind(stored.Kind),
	}, nil
}
