// Package event defines the closed set of outbound events the relay can
// instruct the transport to deliver. Payload shapes mirror what clients
// receive on the wire.
package event

import (
	"chat-relay/domain"
)

// DomainEvent is a sealed union; the transport encodes each concrete kind
// under its own wire name.
type DomainEvent interface {
	isEvent()
}

// User is the presence view of an identified session, as shipped in
// userJoined and roomUsers payloads.
type User struct {
	SessionID   string
	DisplayName string
}

// Connected greets a session with its current identity. Sent on connect
// with a tentative name, and again after each successful setUsername.
type Connected struct {
	SessionID   string
	DisplayName string
}

type Message struct {
	Message domain.ChatMessage
}

type UserJoined struct {
	User User
}

type UserLeft struct {
	SessionID string
}

type UserTyping struct {
	SessionID   string
	DisplayName string
	IsTyping    bool
}

type RoomUsers struct {
	RoomID string
	Users  []User
}

type MessageHistory struct {
	RoomID   string
	Messages []domain.ChatMessage
}

type Error struct {
	Message string
}

func (Connected) isEvent()      {}
func (Message) isEvent()        {}
func (UserJoined) isEvent()     {}
func (UserLeft) isEvent()       {}
func (UserTyping) isEvent()     {}
func (RoomUsers) isEvent()      {}
func (MessageHistory) isEvent() {}
func (Error) isEvent()          {}
