// Package domain contains core concepts of the chat relay.
// No runtime, network, or UI logic should be added here.
package domain

// Session is the server-side state for one connected client, alive for the
// duration of one connection. The display name is absent until the client
// identifies itself; use DisplayName's second return value to distinguish
// "not yet identified" from an actual name.
type Session struct {
	ID    string
	name  string
	named bool
	rooms map[string]struct{}
}

func NewSession(id string) *Session {
	return &Session{
		ID:    id,
		rooms: make(map[string]struct{}),
	}
}

func (s *Session) DisplayName() (string, bool) {
	return s.name, s.named
}

// SetDisplayName records the session's display name. The caller is
// responsible for trimming and rejecting empty names. A later call
// overwrites the previous name.
func (s *Session) SetDisplayName(name string) {
	s.name = name
	s.named = true
}

func (s *Session) JoinRoom(roomID string) {
	s.rooms[roomID] = struct{}{}
}

func (s *Session) LeaveRoom(roomID string) {
	delete(s.rooms, roomID)
}

func (s *Session) InRoom(roomID string) bool {
	_, ok := s.rooms[roomID]
	return ok
}

func (s *Session) RoomCount() int {
	return len(s.rooms)
}
