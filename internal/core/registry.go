package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dkeye/Campus/internal/domain"
	"github.com/rs/zerolog/log"
)

type member struct {
	conn  SignalConnection
	user  *domain.User
	rooms map[RoomID]struct{}
}

// Registry is the only owner of room membership. It is threadsafe, purely
// in-memory and never closes connections except in Close.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*member
	rooms    map[RoomID]map[SessionID]SignalConnection
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[SessionID]*member),
		rooms:    make(map[RoomID]map[SessionID]SignalConnection),
	}
}

// Attach registers an authenticated live connection. Re-attaching a session
// drops the memberships of the previous connection.
func (r *Registry) Attach(sid SessionID, conn SignalConnection, user *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; ok {
		r.detachLocked(sid)
	}
	r.sessions[sid] = &member{conn: conn, user: user, rooms: make(map[RoomID]struct{})}
	log.Info().Str("module", "core.registry").Str("sid", string(sid)).Msg("session attached")
}

// Join adds the session to a room. Joining a room twice is a no-op; the
// returned bool tells whether membership changed.
func (r *Registry) Join(sid SessionID, room RoomID) (bool, error) {
	room = RoomID(strings.TrimSpace(string(room)))
	if room == "" {
		return false, fmt.Errorf("%w: discussion id is required", domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sessions[sid]
	if !ok {
		return false, fmt.Errorf("%w: session %s is not attached", domain.ErrNotFound, sid)
	}
	if _, already := m.rooms[room]; already {
		return false, nil
	}
	members := r.rooms[room]
	if members == nil {
		members = make(map[SessionID]SignalConnection)
		r.rooms[room] = members
	}
	members[sid] = m.conn
	m.rooms[room] = struct{}{}
	log.Info().Str("module", "core.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("member joined")
	return true, nil
}

// Disconnect removes the session and every membership it holds. It is safe to
// call for unknown sessions and returns the rooms that were left.
func (r *Registry) Disconnect(sid SessionID) []RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	left := r.detachLocked(sid)
	if left != nil {
		log.Info().Str("module", "core.registry").Str("sid", string(sid)).Int("rooms", len(left)).Msg("session detached")
	}
	return left
}

func (r *Registry) detachLocked(sid SessionID) []RoomID {
	m, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	delete(r.sessions, sid)
	left := make([]RoomID, 0, len(m.rooms))
	for room := range m.rooms {
		if members := r.rooms[room]; members != nil {
			delete(members, sid)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
		left = append(left, room)
	}
	return left
}

// Broadcast delivers f to the members present when it is called. The member set
// is copied under the read lock and sends happen after releasing it, so joins
// and disconnects never wait on a slow connection.
func (r *Registry) Broadcast(room RoomID, f Frame) PublishResult {
	type target struct {
		sid  SessionID
		conn SignalConnection
	}
	r.mu.RLock()
	members := r.rooms[room]
	targets := make([]target, 0, len(members))
	for sid, conn := range members {
		targets = append(targets, target{sid: sid, conn: conn})
	}
	r.mu.RUnlock()

	res := PublishResult{}
	for _, t := range targets {
		if err := t.conn.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, t.sid)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.registry").Str("room", string(room)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// Send delivers f to a single session, e.g. a confirmation or an error event.
func (r *Registry) Send(sid SessionID, f Frame) error {
	r.mu.RLock()
	m, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: session %s is not attached", domain.ErrNotFound, sid)
	}
	return m.conn.TrySend(f)
}

func (r *Registry) User(sid SessionID) (*domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.sessions[sid]
	if !ok {
		return nil, false
	}
	return m.user, true
}

func (r *Registry) Connection(sid SessionID) (SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.sessions[sid]
	if !ok {
		return nil, false
	}
	return m.conn, true
}

func (r *Registry) IsMember(sid SessionID, room RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][sid]
	return ok
}

func (r *Registry) Members(room RoomID) []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionID, 0, len(r.rooms[room]))
	for sid := range r.rooms[room] {
		out = append(out, sid)
	}
	return out
}

func (r *Registry) RoomsOf(sid SessionID) []RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	out := make([]RoomID, 0, len(m.rooms))
	for room := range m.rooms {
		out = append(out, room)
	}
	return out
}

func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns rooms sorted by id.
func (r *Registry) List() []RoomInfo {
	r.mu.RLock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for id, members := range r.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: len(members)})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close forgets every session and closes its connection. Used at shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := make([]SignalConnection, 0, len(r.sessions))
	for _, m := range r.sessions {
		conns = append(conns, m.conn)
	}
	r.sessions = make(map[SessionID]*member)
	r.rooms = make(map[RoomID]map[SessionID]SignalConnection)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	log.Info().Str("module", "core.registry").Int("closed", len(conns)).Msg("registry closed")
}
