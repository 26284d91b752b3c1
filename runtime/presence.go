package runtime

import (
	"strings"

	"chat-relay/domain"
	"chat-relay/errors"
)

// Presence tracks every registered session and derives the "online users"
// view. It keeps insertion order so repeated snapshots without mutation are
// identical, which presence payloads and tests rely on.
//
// Presence is owned by a single Relay and is not safe for direct concurrent
// use; the relay's mutex is the synchronization boundary.
type Presence struct {
	sessions map[string]*domain.Session
	order    []string
}

func NewPresence() *Presence {
	return &Presence{sessions: make(map[string]*domain.Session)}
}

// Register creates a session with no display name and no rooms. The
// transport guarantees one registration per connection; a duplicate id is a
// programming error upstream, not something to defend against here.
func (p *Presence) Register(sessionID string) *domain.Session {
	session := domain.NewSession(sessionID)
	p.sessions[sessionID] = session
	p.order = append(p.order, sessionID)
	return session
}

func (p *Presence) Get(sessionID string) (*domain.Session, bool) {
	session, ok := p.sessions[sessionID]
	return session, ok
}

// Identify trims the raw name and sets it as the session's display name.
// A second call overwrites the previous name; there is no uniqueness
// constraint on names.
func (p *Presence) Identify(sessionID, rawName string) (string, error) {
	name := strings.TrimSpace(rawName)
	if name == "" {
		return "", errors.ErrEmptyName
	}
	session, ok := p.sessions[sessionID]
	if !ok {
		return "", errors.ErrNotIdentified
	}
	session.SetDisplayName(name)
	return name, nil
}

// Unregister removes and returns the session. The caller is responsible for
// removing it from every room it belonged to.
func (p *Presence) Unregister(sessionID string) (*domain.Session, bool) {
	session, ok := p.sessions[sessionID]
	if !ok {
		return nil, false
	}
	delete(p.sessions, sessionID)
	for i, id := range p.order {
		if id == sessionID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return session, true
}

// Snapshot returns every registered session in insertion order.
func (p *Presence) Snapshot() []*domain.Session {
	snapshot := make([]*domain.Session, 0, len(p.order))
	for _, id := range p.order {
		snapshot = append(snapshot, p.sessions[id])
	}
	return snapshot
}

func (p *Presence) Count() int {
	return len(p.sessions)
}
