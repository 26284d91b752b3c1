package runtime

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/observability"
	"chat-relay/runtime/workers"
)

type captureSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (s *captureSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *captureSink) Events() []event.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.DomainEvent(nil), s.events...)
}

func (s *captureSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

type fakeHistory struct {
	mu        sync.Mutex
	appended  []domain.ChatMessage
	stored    map[string][]domain.ChatMessage
	appendErr error
	queryErr  error
}

func (h *fakeHistory) Append(message domain.ChatMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.appendErr != nil {
		return h.appendErr
	}
	h.appended = append(h.appended, message)
	return nil
}

func (h *fakeHistory) Query(roomID string, _ int) ([]domain.ChatMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.queryErr != nil {
		return nil, h.queryErr
	}
	return h.stored[roomID], nil
}

func (h *fakeHistory) QueryByAuthor(string, int) ([]domain.ChatMessage, error) {
	return nil, nil
}

func newTestRelay(history *fakeHistory) (*Relay, *observability.Stats) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	stats := observability.NewStats()
	return NewRelay(log, history, stats, 16, 50), stats
}

// identify registers a sink, runs the connect greeting, and identifies the
// session, returning its id.
func identify(t *testing.T, relay *Relay, sink *captureSink, name string) string {
	t.Helper()
	ctx := context.Background()
	sessionID := relay.Register(sink)
	relay.HandleCommand(ctx, sessionID, domain.Connect{})
	relay.HandleCommand(ctx, sessionID, domain.SetUsername{Name: name})
	return sessionID
}

func TestRelay_Connect_GreetsWithTentativeName(t *testing.T) {
	req := require.New(t)
	relay, _ := newTestRelay(&fakeHistory{})
	sink := &captureSink{}

	// When a session connects
	sessionID := relay.Register(sink)
	relay.HandleCommand(context.Background(), sessionID, domain.Connect{})

	// Then it is greeted with its id and a tentative name
	events := sink.Events()
	req.Len(events, 1)
	connected, ok := events[0].(event.Connected)
	req.True(ok)
	req.Equal(sessionID, connected.SessionID)
	req.Equal("User-"+sessionID[:6], connected.DisplayName)
}

func TestRelay_SendMessage_BeforeIdentify_Rejected(t *testing.T) {
	req := require.New(t)
	relay, _ := newTestRelay(&fakeHistory{})
	ctx := context.Background()

	alice := &captureSink{}
	identify(t, relay, alice, "Alice")
	alice.Reset()

	anon := &captureSink{}
	anonID := relay.Register(anon)

	// When an unidentified session sends a message
	relay.HandleCommand(ctx, anonID, domain.SendMessage{Content: "hi"})

	// Then only the sender sees an error and nobody receives a message event
	events := anon.Events()
	req.Len(events, 1)
	errEvt, ok := events[0].(event.Error)
	req.True(ok)
	req.Equal("Please set your username first", errEvt.Message)
	req.Empty(alice.Events())
}

func TestRelay_SetUsername_TrimsName(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	// Given two sessions identifying with padded and unpadded names
	relay, _ := newTestRelay(&fakeHistory{})
	padded := &captureSink{}
	paddedID := relay.Register(padded)
	relay.HandleCommand(ctx, paddedID, domain.SetUsername{Name: "  Alice  "})

	relay2, _ := newTestRelay(&fakeHistory{})
	plain := &captureSink{}
	plainID := relay2.Register(plain)
	relay2.HandleCommand(ctx, plainID, domain.SetUsername{Name: "Alice"})

	// Then both stored names and connected payloads agree
	name := func(sink *captureSink) string {
		for _, e := range sink.Events() {
			if connected, ok := e.(event.Connected); ok {
				return connected.DisplayName
			}
		}
		return ""
	}
	req.Equal("Alice", name(padded))
	req.Equal("Alice", name(plain))
}

func TestRelay_SetUsername_EmptyName_Rejected(t *testing.T) {
	req := require.New(t)
	relay, _ := newTestRelay(&fakeHistory{})
	ctx := context.Background()

	sink := &captureSink{}
	sessionID := relay.Register(sink)

	// When the trimmed name is empty
	relay.HandleCommand(ctx, sessionID, domain.SetUsername{Name: "   "})

	// Then the session gets an error and stays unidentified
	events := sink.Events()
	req.Len(events, 1)
	_, ok := events[0].(event.Error)
	req.True(ok)
	req.Empty(relay.OnlineUsers())

	// And messaging is still rejected
	sink.Reset()
	relay.HandleCommand(ctx, sessionID, domain.SendMessage{Content: "hi"})
	_, ok = sink.Events()[0].(event.Error)
	req.True(ok)
}

func TestRelay_Typing_ExcludesSelf(t *testing.T) {
	req := require.New(t)
	relay, _ := newTestRelay(&fakeHistory{})
	ctx := context.Background()

	alice := &captureSink{}
	aliceID := identify(t, relay, alice, "Alice")
	bob := &captureSink{}
	identify(t, relay, bob, "Bob")
	alice.Reset()
	bob.Reset()

	// When Alice starts typing
	relay.HandleCommand(ctx, aliceID, domain.Typing{IsTyping: true})

	// Then Bob sees the signal and Alice does not
	req.Empty(alice.Events())
	events := bob.Events()
	req.Len(events, 1)
	typing, ok := events[0].(event.UserTyping)
	req.True(ok)
	req.Equal(aliceID, typing.SessionID)
	req.Equal("Alice", typing.DisplayName)
	req.True(typing.IsTyping)
}

func TestRelay_SendMessage_EchoesToSender(t *testing.T) {
	req := require.New(t)
	relay, _ := newTestRelay(&fakeHistory{})
	ctx := context.Background()

	alice := &captureSink{}
	aliceID := identify(t, relay, alice, "Alice")
	bob := &captureSink{}
	identify(t, relay, bob, "Bob")
	alice.Reset()
	bob.Reset()

	// When Alice sends a message with padding around the content
	relay.HandleCommand(ctx, aliceID, domain.SendMessage{Content: "  hi  "})

	// Then both Alice and Bob receive the same trimmed message
	for _, sink := range []*captureSink{alice, bob} {
		events := sink.Events()
		req.Len(events, 1)
		message, ok := events[0].(event.Message)
		req.True(ok)
		req.Equal("hi", message.Message.Content)
		req.Equal(aliceID, message.Message.SessionID)
		req.Equal("Alice", message.Message.DisplayName)
		req.Equal(DefaultRoom, message.Message.RoomID)
		req.Equal(domain.KindText, message.Message.Kind)
		req.NotZero(message.Message.ID)
		req.False(message.Message.CreatedAt.IsZero())
	}
}

func TestRelay_SendMessage_EmptyAfterTrim_Rejected(t *testing.T) {
	req := require.New(t)
	relay, _ := newTestRelay(&fakeHistory{})
	ctx := context.Background()

	alice := &captureSink{}
	aliceID := identify(t, relay, alice, "Alice")
	alice.Reset()

	relay.HandleCommand(ctx, aliceID, domain.SendMessage{Content: "   "})

	events := alice.Events()
	req.Len(events, 1)
	_, ok := events[0].(event.Error)
	req.True(ok)
}

func TestRelay_MembershipPresenceConsistency(t *testing.T) {
	req := require.New(t)
	relay, _ := newTestRelay(&fakeHistory{})
	ctx := context.Background()

	alice := &captureSink{}
	aliceID := identify(t, relay, alice, "Alice")
	bob := &captureSink{}
	bobID := identify(t, relay, bob, "Bob")

	relay.HandleCommand(ctx, aliceID, domain.JoinRoom{RoomID: "random"})
	relay.HandleCommand(ctx, bobID, domain.JoinRoom{RoomID: "random"})
	relay.HandleCommand(ctx, bobID, domain.LeaveRoom{RoomID: "random"})
	relay.HandleCommand(ctx, bobID, domain.Disconnect{})

	// Then for every room, membersOf(R) equals exactly the sessions whose
	// room set contains R, and the presence view lists the same members.
	relay.mu.Lock()
	defer relay.mu.Unlock()
	for roomID, members := range relay.registry.RoomMembers {
		for _, session := range relay.presence.Snapshot() {
			_, isMember := members[session.ID]
			req.Equal(session.InRoom(roomID), isMember,
				"room %s / session %s out of sync", roomID, session.ID)
		}
		presence := relay.roomPresence(roomID)
		req.Len(presence, len(members))
		for _, user := range presence {
			req.Contains(members, user.SessionID)
		}
	}
	req.Contains(relay.registry.RoomMembers["random"], aliceID)
	req.NotContains(relay.registry.RoomMembers["random"], bobID)
}

func TestRelay_Disconnect_CleansUpAndIsIdempotent(t *testing.T) {
	req := require.New(t)
	relay, _ := newTestRelay(&fakeHistory{})
	ctx := context.Background()

	alice := &captureSink{}
	identify(t, relay, alice, "Alice")
	bob := &captureSink{}
	bobID := identify(t, relay, bob, "Bob")
	relay.HandleCommand(ctx, bobID, domain.JoinRoom{RoomID: "random"})
	alice.Reset()

	// When Bob disconnects
	relay.HandleCommand(ctx, bobID, domain.Disconnect{})

	// Then Bob is gone from every room and every snapshot
	relay.mu.Lock()
	for _, members := range relay.registry.RoomMembers {
		req.NotContains(members, bobID)
	}
	req.NotContains(relay.sinks, bobID)
	relay.mu.Unlock()
	req.Len(relay.OnlineUsers(), 1)

	// And Alice is told, in order: userLeft then roomUsers
	events := alice.Events()
	req.Len(events, 2)
	left, ok := events[0].(event.UserLeft)
	req.True(ok)
	req.Equal(bobID, left.SessionID)
	users, ok := events[1].(event.RoomUsers)
	req.True(ok)
	req.Len(users.Users, 1)
	req.Equal("Alice", users.Users[0].DisplayName)

	// And a duplicate close signal is a no-op
	alice.Reset()
	relay.HandleCommand(ctx, bobID, domain.Disconnect{})
	req.Empty(alice.Events())
	req.Len(relay.OnlineUsers(), 1)
}

func TestRelay_EndToEndScenario(t *testing.T) {
	req := require.New(t)
	relay, _ := newTestRelay(&fakeHistory{})
	ctx := context.Background()

	// Session A connects and identifies as Alice
	alice := &captureSink{}
	aliceID := relay.Register(alice)
	relay.HandleCommand(ctx, aliceID, domain.Connect{})
	relay.HandleCommand(ctx, aliceID, domain.SetUsername{Name: "Alice"})

	events := alice.Events()
	req.Len(events, 4)
	req.IsType(event.Connected{}, events[0])
	greeted := events[1].(event.Connected)
	req.Equal("Alice", greeted.DisplayName)
	history := events[2].(event.MessageHistory)
	req.Empty(history.Messages)
	snapshot := events[3].(event.RoomUsers)
	req.Len(snapshot.Users, 1)
	req.Equal("Alice", snapshot.Users[0].DisplayName)
	alice.Reset()

	// Session B connects and identifies as Bob
	bob := &captureSink{}
	bobID := relay.Register(bob)
	relay.HandleCommand(ctx, bobID, domain.Connect{})
	relay.HandleCommand(ctx, bobID, domain.SetUsername{Name: "Bob"})

	// Then Alice sees the join and the updated presence
	events = alice.Events()
	req.Len(events, 2)
	joined := events[0].(event.UserJoined)
	req.Equal("Bob", joined.User.DisplayName)
	snapshot = events[1].(event.RoomUsers)
	req.Equal([]string{"Alice", "Bob"}, displayNames(snapshot.Users))

	// And Bob got its own greeting, history, and the same presence
	events = bob.Events()
	req.Len(events, 4)
	snapshot = events[3].(event.RoomUsers)
	req.Equal([]string{"Alice", "Bob"}, displayNames(snapshot.Users))
	alice.Reset()
	bob.Reset()

	// When Alice sends a message, both receive it
	relay.HandleCommand(ctx, aliceID, domain.SendMessage{Content: "hi"})
	for _, sink := range []*captureSink{alice, bob} {
		events = sink.Events()
		req.Len(events, 1)
		message := events[0].(event.Message)
		req.Equal("hi", message.Message.Content)
		req.Equal("Alice", message.Message.DisplayName)
	}
	alice.Reset()

	// When Bob disconnects, Alice sees userLeft then the shrunken presence
	relay.HandleCommand(ctx, bobID, domain.Disconnect{})
	events = alice.Events()
	req.Len(events, 2)
	left := events[0].(event.UserLeft)
	req.Equal(bobID, left.SessionID)
	snapshot = events[1].(event.RoomUsers)
	req.Equal([]string{"Alice"}, displayNames(snapshot.Users))
}

func TestRelay_StorageFailureDoesNotBlockBroadcast(t *testing.T) {
	req := require.New(t)
	history := &fakeHistory{appendErr: context.DeadlineExceeded}
	relay, stats := newTestRelay(history)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Given a history writer draining into a failing gateway
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	writer := workers.NewHistoryWriter(history, relay.PendingStorage(), stats, log)
	go func() { _ = writer.Run(ctx) }()

	alice := &captureSink{}
	aliceID := identify(t, relay, alice, "Alice")
	bob := &captureSink{}
	identify(t, relay, bob, "Bob")
	alice.Reset()
	bob.Reset()

	// When a message is sent while storage is down
	relay.HandleCommand(ctx, aliceID, domain.SendMessage{Content: "hi"})

	// Then the broadcast still reaches every member
	for _, sink := range []*captureSink{alice, bob} {
		events := sink.Events()
		req.Len(events, 1)
		req.IsType(event.Message{}, events[0])
	}

	// And the failure is observable only in the counters
	req.Eventually(func() bool {
		return stats.StorageFailures() == 1
	}, time.Second, 10*time.Millisecond)
	req.Empty(alice.Events()[1:])
}

func TestRelay_Rename_OverwritesSilently(t *testing.T) {
	req := require.New(t)
	relay, _ := newTestRelay(&fakeHistory{})
	ctx := context.Background()

	alice := &captureSink{}
	aliceID := identify(t, relay, alice, "Alice")
	bob := &captureSink{}
	identify(t, relay, bob, "Bob")
	alice.Reset()
	bob.Reset()

	// When Alice identifies again with a new name
	relay.HandleCommand(ctx, aliceID, domain.SetUsername{Name: "Alicia"})

	// Then only Alice is told; rooms are not re-notified of the rename
	events := alice.Events()
	req.Len(events, 1)
	connected := events[0].(event.Connected)
	req.Equal("Alicia", connected.DisplayName)
	req.Empty(bob.Events())

	// And the new name shows up in later presence views
	users := relay.OnlineUsers()
	req.Equal([]string{"Alicia", "Bob"}, displayNames(users))
}

func TestRelay_RequestHistory_DefaultsToGeneralRoom(t *testing.T) {
	req := require.New(t)
	stored := domain.ChatMessage{DisplayName: "Old", Content: "hello", RoomID: DefaultRoom}
	history := &fakeHistory{stored: map[string][]domain.ChatMessage{DefaultRoom: {stored}}}
	relay, _ := newTestRelay(history)
	ctx := context.Background()

	alice := &captureSink{}
	aliceID := identify(t, relay, alice, "Alice")
	alice.Reset()

	relay.HandleCommand(ctx, aliceID, domain.RequestHistory{})

	events := alice.Events()
	req.Len(events, 1)
	result := events[0].(event.MessageHistory)
	req.Equal(DefaultRoom, result.RoomID)
	req.Len(result.Messages, 1)
	req.Equal("hello", result.Messages[0].Content)
}

func TestRelay_RequestHistory_FailureReportedToRequesterOnly(t *testing.T) {
	req := require.New(t)
	relay, _ := newTestRelay(&fakeHistory{})
	ctx := context.Background()

	alice := &captureSink{}
	aliceID := identify(t, relay, alice, "Alice")
	bob := &captureSink{}
	identify(t, relay, bob, "Bob")

	// History starts failing after both identified
	relay.history.(*fakeHistory).queryErr = context.DeadlineExceeded
	alice.Reset()
	bob.Reset()

	relay.HandleCommand(ctx, aliceID, domain.RequestHistory{RoomID: "random"})

	events := alice.Events()
	req.Len(events, 1)
	errEvt := events[0].(event.Error)
	req.Equal("Failed to load message history", errEvt.Message)
	req.Empty(bob.Events())
}

func displayNames(users []event.User) []string {
	names := make([]string, 0, len(users))
	for _, user := range users {
		names = append(names, user.DisplayName)
	}
	return names
}

func TestRelay_BroadcastSystemNotice_ReachesEverySession(t *testing.T) {
	req := require.New(t)
	relay, _ := newTestRelay(&fakeHistory{})
	ctx := context.Background()

	// Given an identified user and an anonymous session
	alice := &captureSink{}
	identify(t, relay, alice, "Alice")
	anon := &captureSink{}
	relay.Register(anon)
	alice.Reset()

	// When a global notice is broadcast
	relay.BroadcastSystemNotice(ctx, "Server is shutting down")

	// Then every connected session receives it as a system message
	for _, sink := range []*captureSink{alice, anon} {
		events := sink.Events()
		req.Len(events, 1)
		notice, ok := events[0].(event.Message)
		req.True(ok)
		req.Equal("Server is shutting down", notice.Message.Content)
		req.Equal(domain.KindSystem, notice.Message.Kind)
	}
}
