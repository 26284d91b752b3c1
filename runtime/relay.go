// Package runtime owns the in-memory model of connected sessions, their room
// memberships, and the broadcast fan-out. It orchestrates state transitions
// without containing transport or storage logic.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
)

// DefaultRoom is the room every session joins upon identifying.
const DefaultRoom = "general"

const defaultHistoryLimit = 50

// Relay consumes inbound session commands, validates session state, mutates
// the presence tracker and room registry, and emits outbound events to one,
// many, or all sessions.
//
// All shared state (presence, registry, sinks) is guarded by one mutex:
// every read-modify-write that spans identify/join/snapshot runs as a single
// atomic unit with respect to other sessions. Content trimming, history
// reads, and the actual fan-out happen outside the lock. A join arriving
// mid-fan-out may or may not receive that particular broadcast; that is
// accepted best-effort semantics.
type Relay struct {
	mu           sync.Mutex
	log          *slog.Logger
	presence     *Presence
	registry     *Registry
	sinks        map[string]contract.EventSink
	history      contract.IHistoryGateway
	stats        *observability.Stats
	pending      chan domain.ChatMessage
	historyLimit int
}

func NewRelay(log *slog.Logger, history contract.IHistoryGateway,
	stats *observability.Stats, storageBufferSize, historyLimit int) *Relay {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Relay{
		log:          log,
		presence:     NewPresence(),
		registry:     NewRegistry(),
		sinks:        make(map[string]contract.EventSink),
		history:      history,
		stats:        stats,
		pending:      make(chan domain.ChatMessage, storageBufferSize),
		historyLimit: historyLimit,
	}
}

// PendingStorage exposes the queue of messages awaiting persistence. The
// HistoryWriter worker drains it; the relay never blocks on storage.
func (r *Relay) PendingStorage() <-chan domain.ChatMessage {
	return r.pending
}

// Register creates a session for a freshly connected transport channel and
// attaches its sink. It returns the session id the transport tags all
// subsequent commands with.
func (r *Relay) Register(sink contract.EventSink) string {
	sessionID := uuid.NewString()

	r.mu.Lock()
	r.presence.Register(sessionID)
	r.sinks[sessionID] = sink
	r.mu.Unlock()

	r.stats.IncrConnected()
	return sessionID
}

// HandleCommand dispatches one inbound event for one session. The switch is
// exhaustive over the closed Command union; per-session FIFO ordering is the
// transport's responsibility.
func (r *Relay) HandleCommand(ctx context.Context, sessionID string, cmd domain.Command) {
	switch c := cmd.(type) {
	case domain.Connect:
		r.handleConnect(ctx, sessionID)
	case domain.SetUsername:
		r.handleSetUsername(ctx, sessionID, c.Name)
	case domain.SendMessage:
		r.handleSendMessage(ctx, sessionID, c)
	case domain.Typing:
		r.handleTyping(ctx, sessionID, c.IsTyping)
	case domain.JoinRoom:
		r.handleJoinRoom(ctx, sessionID, c.RoomID)
	case domain.LeaveRoom:
		r.handleLeaveRoom(ctx, sessionID, c.RoomID)
	case domain.RequestHistory:
		r.handleRequestHistory(ctx, sessionID, c.RoomID)
	case domain.Disconnect:
		r.handleDisconnect(ctx, sessionID)
	default:
		r.log.Warn(fmt.Sprintf("Unknown command %T for session %s", cmd, sessionID))
	}
}

func (r *Relay) handleConnect(ctx context.Context, sessionID string) {
	r.mu.Lock()
	sink, ok := r.sinks[sessionID]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.deliver(ctx, sink, event.Connected{
		SessionID:   sessionID,
		DisplayName: tentativeName(sessionID),
	})
}

// handleSetUsername is the only CONNECTED -> IDENTIFIED transition. A later
// call on an already identified session overwrites the name and re-emits
// connected to the caller only; rooms are not re-notified of the rename.
// That mirrors the historical behavior and is a known gap, kept as is.
func (r *Relay) handleSetUsername(ctx context.Context, sessionID, rawName string) {
	r.mu.Lock()
	sink, ok := r.sinks[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	session, _ := r.presence.Get(sessionID)
	_, wasIdentified := session.DisplayName()

	name, err := r.presence.Identify(sessionID, rawName)
	if err != nil {
		r.mu.Unlock()
		r.emitError(ctx, sink, err)
		return
	}

	var peers []contract.EventSink
	var roomSinks []contract.EventSink
	var users []event.User
	if !wasIdentified {
		r.registry.Join(DefaultRoom, sessionID)
		session.JoinRoom(DefaultRoom)
		peers = r.sinksFor(r.registry.MembersOf(DefaultRoom), sessionID)
		roomSinks = r.sinksFor(r.registry.MembersOf(DefaultRoom), "")
		users = r.roomPresence(DefaultRoom)
	}
	r.mu.Unlock()

	r.deliver(ctx, sink, event.Connected{SessionID: sessionID, DisplayName: name})
	if wasIdentified {
		return
	}
	r.stats.IncrIdentified()

	joined := event.UserJoined{User: event.User{SessionID: sessionID, DisplayName: name}}
	for _, peer := range peers {
		r.deliver(ctx, peer, joined)
	}

	// A failed history read must not fail the identify; the newcomer simply
	// starts with an empty backlog.
	messages, err := r.history.Query(DefaultRoom, r.historyLimit)
	if err != nil {
		r.log.Warn("Failed to load message history on identify", "error", err)
		messages = nil
	}
	r.deliver(ctx, sink, event.MessageHistory{RoomID: DefaultRoom, Messages: messages})

	snapshot := event.RoomUsers{RoomID: DefaultRoom, Users: users}
	for _, member := range roomSinks {
		r.deliver(ctx, member, snapshot)
	}

	r.log.Info(fmt.Sprintf("User %s (%s) joined the chat", name, sessionID))
}

func (r *Relay) handleSendMessage(ctx context.Context, sessionID string, cmd domain.SendMessage) {
	content := strings.TrimSpace(cmd.Content)

	r.mu.Lock()
	sink, ok := r.sinks[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	session, _ := r.presence.Get(sessionID)
	name, identified := session.DisplayName()
	if !identified {
		r.mu.Unlock()
		r.emitError(ctx, sink, errors.ErrNotIdentified)
		return
	}
	if content == "" {
		r.mu.Unlock()
		r.emitError(ctx, sink, errors.ErrEmptyContent)
		return
	}

	kind := cmd.Kind
	if !kind.Valid() {
		kind = domain.KindText
	}
	roomID := cmd.RoomID
	if roomID == "" {
		roomID = DefaultRoom
	}

	message := domain.ChatMessage{
		ID:          uuid.New(),
		SessionID:   sessionID,
		DisplayName: name,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
		RoomID:      roomID,
		Kind:        kind,
	}

	// Message events echo back to the sender even when it is not a member
	// of the target room.
	recipients := r.sinksFor(r.registry.MembersOf(roomID), "")
	if !r.registry.IsMember(roomID, sessionID) {
		recipients = append(recipients, sink)
	}
	r.mu.Unlock()

	// Best-effort persistence: a full queue is counted and logged, never
	// propagated to the sender, and the broadcast still goes out.
	select {
	case r.pending <- message:
	default:
		r.stats.IncrStorageFailures()
		r.log.Warn(fmt.Sprintf("Storage queue full, dropping message %s", message.ID))
	}

	outbound := event.Message{Message: message}
	for _, recipient := range recipients {
		r.deliver(ctx, recipient, outbound)
	}
	r.stats.IncrMessagesRelayed()
}

// handleTyping broadcasts the ephemeral signal to the default room,
// excluding the author. Nothing is mutated and nothing is stored.
func (r *Relay) handleTyping(ctx context.Context, sessionID string, isTyping bool) {
	r.mu.Lock()
	sink, ok := r.sinks[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	session, _ := r.presence.Get(sessionID)
	name, identified := session.DisplayName()
	if !identified {
		r.mu.Unlock()
		r.emitError(ctx, sink, errors.ErrNotIdentified)
		return
	}
	peers := r.sinksFor(r.registry.MembersOf(DefaultRoom), sessionID)
	r.mu.Unlock()

	signal := event.UserTyping{SessionID: sessionID, DisplayName: name, IsTyping: isTyping}
	for _, peer := range peers {
		r.deliver(ctx, peer, signal)
	}
}

func (r *Relay) handleJoinRoom(ctx context.Context, sessionID, roomID string) {
	if roomID == "" {
		return
	}
	r.mu.Lock()
	sink, ok := r.sinks[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	session, _ := r.presence.Get(sessionID)
	name, identified := session.DisplayName()
	if !identified {
		r.mu.Unlock()
		r.emitError(ctx, sink, errors.ErrNotIdentified)
		return
	}
	r.registry.Join(roomID, sessionID)
	session.JoinRoom(roomID)
	r.mu.Unlock()

	r.log.Debug(fmt.Sprintf("User %s joined room %s", name, roomID))
}

func (r *Relay) handleLeaveRoom(ctx context.Context, sessionID, roomID string) {
	r.mu.Lock()
	sink, ok := r.sinks[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	session, _ := r.presence.Get(sessionID)
	name, identified := session.DisplayName()
	if !identified {
		r.mu.Unlock()
		r.emitError(ctx, sink, errors.ErrNotIdentified)
		return
	}
	r.registry.Leave(roomID, sessionID)
	session.LeaveRoom(roomID)
	r.mu.Unlock()

	r.log.Debug(fmt.Sprintf("User %s left room %s", name, roomID))
}

func (r *Relay) handleRequestHistory(ctx context.Context, sessionID, roomID string) {
	r.mu.Lock()
	sink, ok := r.sinks[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	session, _ := r.presence.Get(sessionID)
	_, identified := session.DisplayName()
	r.mu.Unlock()

	if !identified {
		r.emitError(ctx, sink, errors.ErrNotIdentified)
		return
	}
	if roomID == "" {
		roomID = DefaultRoom
	}

	messages, err := r.history.Query(roomID, r.historyLimit)
	if err != nil {
		r.log.Warn("Failed to load message history", "room_id", roomID, "error", err)
		r.deliver(ctx, sink, event.Error{Message: "Failed to load message history"})
		return
	}
	r.deliver(ctx, sink, event.MessageHistory{RoomID: roomID, Messages: messages})
}

// handleDisconnect removes the session and every piece of derived state in
// one logical step, then notifies each affected room. Invoking it again for
// a session that is already gone is a no-op; a transport may deliver a
// duplicate close signal.
func (r *Relay) handleDisconnect(ctx context.Context, sessionID string) {
	type roomNotice struct {
		sinks []contract.EventSink
		users event.RoomUsers
	}

	r.mu.Lock()
	if _, ok := r.presence.Get(sessionID); !ok {
		r.mu.Unlock()
		return
	}
	affected := r.registry.LeaveAll(sessionID)
	session, _ := r.presence.Unregister(sessionID)
	delete(r.sinks, sessionID)

	notices := make([]roomNotice, 0, len(affected))
	for _, roomID := range affected {
		notices = append(notices, roomNotice{
			sinks: r.sinksFor(r.registry.MembersOf(roomID), ""),
			users: event.RoomUsers{RoomID: roomID, Users: r.roomPresence(roomID)},
		})
	}
	r.mu.Unlock()

	r.stats.IncrDisconnected()

	name, identified := session.DisplayName()
	if !identified {
		r.log.Debug(fmt.Sprintf("Anonymous session %s disconnected", sessionID))
		return
	}

	left := event.UserLeft{SessionID: sessionID}
	for _, notice := range notices {
		for _, sink := range notice.sinks {
			r.deliver(ctx, sink, left)
		}
		for _, sink := range notice.sinks {
			r.deliver(ctx, sink, notice.users)
		}
	}

	r.log.Info(fmt.Sprintf("User %s (%s) disconnected", name, sessionID))
}

// BroadcastSystemNotice delivers a system message to every connected
// session, regardless of rooms. Used for global notices such as an
// imminent shutdown; the notice is not persisted.
func (r *Relay) BroadcastSystemNotice(ctx context.Context, content string) {
	r.mu.Lock()
	sinks := lo.Values(r.sinks)
	r.mu.Unlock()

	notice := event.Message{Message: domain.ChatMessage{
		ID:        uuid.New(),
		Content:   content,
		CreatedAt: time.Now().UTC(),
		RoomID:    DefaultRoom,
		Kind:      domain.KindSystem,
	}}
	for _, sink := range sinks {
		r.deliver(ctx, sink, notice)
	}
}

// OnlineUsers returns the presence view of every identified session, in
// registration order. Used by the HTTP read API.
func (r *Relay) OnlineUsers() []event.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.FilterMap(r.presence.Snapshot(), func(s *domain.Session, _ int) (event.User, bool) {
		name, identified := s.DisplayName()
		return event.User{SessionID: s.ID, DisplayName: name}, identified
	})
}

func (r *Relay) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.Count()
}

// sinksFor resolves room members to their sinks, optionally excluding one
// session. Must be called with the relay mutex held. Order follows presence
// registration order so fan-out is deterministic.
func (r *Relay) sinksFor(members Set, exclude string) []contract.EventSink {
	sinks := make([]contract.EventSink, 0, len(members))
	for _, session := range r.presence.Snapshot() {
		if session.ID == exclude {
			continue
		}
		if _, ok := members[session.ID]; !ok {
			continue
		}
		if sink, exists := r.sinks[session.ID]; exists {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}

// roomPresence lists the identified members of a room in registration
// order. Must be called with the relay mutex held.
func (r *Relay) roomPresence(roomID string) []event.User {
	members := r.registry.MembersOf(roomID)
	users := make([]event.User, 0, len(members))
	for _, session := range r.presence.Snapshot() {
		if _, ok := members[session.ID]; !ok {
			continue
		}
		if name, identified := session.DisplayName(); identified {
			users = append(users, event.User{SessionID: session.ID, DisplayName: name})
		}
	}
	return users
}

func (r *Relay) deliver(ctx context.Context, sink contract.EventSink, evt event.DomainEvent) {
	if err := sink.Consume(ctx, evt); err != nil {
		r.stats.IncrEventsDropped()
		r.log.Debug("Dropping outbound event", "error", err)
	}
}

func (r *Relay) emitError(ctx context.Context, sink contract.EventSink, err error) {
	r.deliver(ctx, sink, event.Error{Message: errors.ClientMessage(err)})
}

func tentativeName(sessionID string) string {
	short := sessionID
	if len(short) > 6 {
		short = short[:6]
	}
	return "User-" + short
}
