// Package transport bridges websocket connections and the relay: it decodes
// inbound JSON envelopes into domain commands and encodes outbound domain
// events into the payload shapes clients expect.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"chat-relay/domain"
	"chat-relay/domain/event"
)

// Envelope is the wire frame for both directions: an event name plus its
// JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names.
const (
	eventSetUsername    = "setUsername"
	eventSendMessage    = "sendMessage"
	eventTyping         = "typing"
	eventJoinRoom       = "joinRoom"
	eventLeaveRoom      = "leaveRoom"
	eventRequestHistory = "requestHistory"
)

// Outbound event names.
const (
	eventConnected      = "connected"
	eventMessage        = "message"
	eventUserJoined     = "userJoined"
	eventUserLeft       = "userLeft"
	eventUserTyping     = "userTyping"
	eventRoomUsers      = "roomUsers"
	eventMessageHistory = "messageHistory"
	eventError          = "error"
)

type setUsernamePayload struct {
	Username string `json:"username" validate:"max=64"`
}

type sendMessagePayload struct {
	Content string `json:"content" validate:"max=2000"`
	Kind    string `json:"type" validate:"omitempty,oneof=text system image file"`
	RoomID  string `json:"roomId" validate:"max=128"`
}

type typingPayload struct {
	IsTyping bool `json:"isTyping"`
}

type roomPayload struct {
	RoomID string `json:"roomId" validate:"required,max=128"`
}

type historyPayload struct {
	RoomID string `json:"roomId" validate:"max=128"`
}

// Codec translates between wire envelopes and the domain's command/event
// unions. Payloads are validated before a command is handed to the relay so
// oversized or malformed input never reaches shared state.
type Codec struct {
	validate *validator.Validate
}

func NewCodec() *Codec {
	return &Codec{validate: validator.New()}
}

// Decode turns an inbound envelope into a domain command. The error is
// client-facing.
func (c *Codec) Decode(envelope Envelope) (domain.Command, error) {
	switch envelope.Event {
	case eventSetUsername:
		var payload setUsernamePayload
		if err := c.unmarshal(envelope.Data, &payload); err != nil {
			return nil, err
		}
		return domain.SetUsername{Name: payload.Username}, nil

	case eventSendMessage:
		var payload sendMessagePayload
		if err := c.unmarshal(envelope.Data, &payload); err != nil {
			return nil, err
		}
		return domain.SendMessage{
			Content: payload.Content,
			Kind:    domain.MessageKind(payload.Kind),
			RoomID:  payload.RoomID,
		}, nil

	case eventTyping:
		var payload typingPayload
		if err := c.unmarshal(envelope.Data, &payload); err != nil {
			return nil, err
		}
		return domain.Typing{IsTyping: payload.IsTyping}, nil

	case eventJoinRoom:
		var payload roomPayload
		if err := c.unmarshal(envelope.Data, &payload); err != nil {
			return nil, err
		}
		return domain.JoinRoom{RoomID: payload.RoomID}, nil

	case eventLeaveRoom:
		var payload roomPayload
		if err := c.unmarshal(envelope.Data, &payload); err != nil {
			return nil, err
		}
		return domain.LeaveRoom{RoomID: payload.RoomID}, nil

	case eventRequestHistory:
		var payload historyPayload
		if len(envelope.Data) > 0 {
			if err := c.unmarshal(envelope.Data, &payload); err != nil {
				return nil, err
			}
		}
		return domain.RequestHistory{RoomID: payload.RoomID}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %s", envelope.Event)
	}
}

func (c *Codec) unmarshal(data json.RawMessage, payload any) error {
	if len(data) == 0 {
		return fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return fmt.Errorf("invalid payload")
	}
	if err := c.validate.Struct(payload); err != nil {
		return fmt.Errorf("invalid payload")
	}
	return nil
}

type connectedBody struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type messageBody struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"type"`
	RoomID    string    `json:"roomId"`
}

type userBody struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsOnline bool   `json:"isOnline"`
}

type userLeftBody struct {
	UserID string `json:"userId"`
}

type userTypingBody struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// Encode turns an outbound domain event into its wire envelope.
func Encode(evt event.DomainEvent) (Envelope, error) {
	switch e := evt.(type) {
	case event.Connected:
		return envelope(eventConnected, connectedBody{UserID: e.SessionID, Username: e.DisplayName})
	case event.Message:
		return envelope(eventMessage, toMessageBody(e.Message))
	case event.UserJoined:
		return envelope(eventUserJoined, toUserBody(e.User))
	case event.UserLeft:
		return envelope(eventUserLeft, userLeftBody{UserID: e.SessionID})
	case event.UserTyping:
		return envelope(eventUserTyping, userTypingBody{
			UserID:   e.SessionID,
			Username: e.DisplayName,
			IsTyping: e.IsTyping,
		})
	case event.RoomUsers:
		return envelope(eventRoomUsers, lo.Map(e.Users, func(u event.User, _ int) userBody {
			return toUserBody(u)
		}))
	case event.MessageHistory:
		return envelope(eventMessageHistory, lo.Map(e.Messages, func(m domain.ChatMessage, _ int) messageBody {
			return toMessageBody(m)
		}))
	case event.Error:
		return envelope(eventError, e.Message)
	default:
		return Envelope{}, fmt.Errorf("unknown outbound event %T", evt)
	}
}

func envelope(name string, body any) (Envelope, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: name, Data: data}, nil
}

func toMessageBody(m domain.ChatMessage) messageBody {
	return messageBody{
		ID:        m.ID.String(),
		UserID:    m.SessionID,
		Username:  m.DisplayName,
		Content:   m.Content,
		Timestamp: m.CreatedAt,
		Kind:      string(m.Kind),
		RoomID:    m.RoomID,
	}
}

func toUserBody(u event.User) userBody {
	return userBody{ID: u.SessionID, Username: u.DisplayName, IsOnline: true}
}
