package runtime

type Set map[string]struct{}

// Registry maps room identifiers to their member session ids, with a
// reverse index so a disconnecting session can be pulled out of every room
// in one step. Rooms are created lazily on first join; an empty room is
// removed entirely, so "absent from the registry" is the canonical empty
// form.
//
// Like Presence, the Registry is owned by a single Relay and relies on the
// relay's mutex for synchronization.
type Registry struct {
	RoomMembers map[string]Set
	MemberRooms map[string]Set
}

func NewRegistry() *Registry {
	return &Registry{
		RoomMembers: make(map[string]Set),
		MemberRooms: make(map[string]Set),
	}
}

// Join adds the session to the room, creating the room lazily. Joining a
// room the session is already in is a no-op, not an error.
func (r *Registry) Join(roomID, sessionID string) {
	if _, ok := r.RoomMembers[roomID]; !ok {
		r.RoomMembers[roomID] = make(Set)
	}
	r.RoomMembers[roomID][sessionID] = struct{}{}

	if _, ok := r.MemberRooms[sessionID]; !ok {
		r.MemberRooms[sessionID] = make(Set)
	}
	r.MemberRooms[sessionID][roomID] = struct{}{}
}

// Leave removes the session from the room. Leaving a room the session is
// not in is a no-op. Empty sets are pruned to prevent the maps from growing
// without bound.
func (r *Registry) Leave(roomID, sessionID string) {
	if members, ok := r.RoomMembers[roomID]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.RoomMembers, roomID)
		}
	}
	if rooms, ok := r.MemberRooms[sessionID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.MemberRooms, sessionID)
		}
	}
}

// LeaveAll removes the session from every room it belongs to and returns
// the rooms it was removed from, so the caller knows which rooms need an
// updated presence broadcast.
func (r *Registry) LeaveAll(sessionID string) []string {
	rooms, ok := r.MemberRooms[sessionID]
	if !ok {
		return nil
	}
	affected := make([]string, 0, len(rooms))
	for roomID := range rooms {
		affected = append(affected, roomID)
		if members, exists := r.RoomMembers[roomID]; exists {
			delete(members, sessionID)
			if len(members) == 0 {
				delete(r.RoomMembers, roomID)
			}
		}
	}
	delete(r.MemberRooms, sessionID)
	return affected
}

// MembersOf returns the current members of the room, possibly empty.
func (r *Registry) MembersOf(roomID string) Set {
	return r.RoomMembers[roomID]
}

func (r *Registry) IsMember(roomID, sessionID string) bool {
	members, ok := r.RoomMembers[roomID]
	if !ok {
		return false
	}
	_, ok = members[sessionID]
	return ok
}
