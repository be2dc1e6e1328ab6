package chat

import (
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// Room groups connections that share message and presence visibility.
// Membership is kept in join order so user lists render stably.
type Room struct {
	ID        string
	CreatedAt time.Time
	members   []string // userIDs, join order
}

func (r *Room) memberIndex(userID string) int {
	for i, id := range r.members {
		if id == userID {
			return i
		}
	}
	return -1
}

// RoomEventKind tags membership notifications emitted by the RoomManager.
type RoomEventKind int

const (
	RoomUserJoined RoomEventKind = iota
	RoomUserLeft
)

// RoomEvent is delivered to the manager's subscriber after a membership
// mutation, outside the room lock.
type RoomEvent struct {
	Kind   RoomEventKind
	RoomID string
	UserID string
}

// RoomManager owns room directories and membership. A user is in at most
// one room at a time; joining a new room leaves the previous one first.
// The default room always exists and is the only one that is auto-created.
type RoomManager struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	roomOf map[string]string // userID -> roomID

	defaultRoom string
	clock       func() time.Time
	notify      func(RoomEvent)
}

func NewRoomManager(defaultRoom string, clock func() time.Time) *RoomManager {
	if clock == nil {
		clock = time.Now
	}
	m := &RoomManager{
		rooms:       make(map[string]*Room),
		roomOf:      make(map[string]string),
		defaultRoom: normalizeRoom(defaultRoom),
		clock:       clock,
	}
	m.rooms[m.defaultRoom] = &Room{ID: m.defaultRoom, CreatedAt: clock()}
	return m
}

// Subscribe sets the membership notification sink. Must be called before
// any Join/Leave traffic; the manager wires this once at startup.
func (m *RoomManager) Subscribe(fn func(RoomEvent)) {
	m.notify = fn
}

// normalizeRoom trims the name and collapses slash noise, so "general",
// " general " and "/general" address the same room.
func normalizeRoom(room string) string {
	r := strings.TrimSpace(room)
	if r == "" {
		return ""
	}
	r = path.Clean("/" + r)
	return strings.TrimPrefix(r, "/")
}

// DefaultRoom returns the normalized default room ID.
func (m *RoomManager) DefaultRoom() string {
	return m.defaultRoom
}

// Create adds a room to the directory. Reports false when the name is
// empty after normalization or the room already exists.
func (m *RoomManager) Create(roomID string) bool {
	r := normalizeRoom(roomID)
	if r == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rooms[r]; exists {
		return false
	}
	m.rooms[r] = &Room{ID: r, CreatedAt: m.clock()}
	return true
}

// Exists reports whether the room is in the directory.
func (m *RoomManager) Exists(roomID string) bool {
	r := normalizeRoom(roomID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[r]
	return ok
}

// Join admits the user to roomID, leaving any previously joined room
// first. Only the default room is created on demand; all other rooms must
// exist or the join fails with ErrRoomNotFound. Returns the room the user
// left ("" when none) and the join-ordered member snapshot.
func (m *RoomManager) Join(userID, roomID string) (left string, members []string, err error) {
	r := normalizeRoom(roomID)
	if r == "" {
		r = m.defaultRoom
	}

	var events []RoomEvent
	m.mu.Lock()
	room, ok := m.rooms[r]
	if !ok {
		if r != m.defaultRoom {
			m.mu.Unlock()
			return "", nil, ErrRoomNotFound
		}
		room = &Room{ID: r, CreatedAt: m.clock()}
		m.rooms[r] = room
	}

	if prev, ok := m.roomOf[userID]; ok && prev != r {
		if prevRoom := m.rooms[prev]; prevRoom != nil {
			if i := prevRoom.memberIndex(userID); i >= 0 {
				prevRoom.members = append(prevRoom.members[:i], prevRoom.members[i+1:]...)
			}
		}
		left = prev
		events = append(events, RoomEvent{Kind: RoomUserLeft, RoomID: prev, UserID: userID})
	}

	if room.memberIndex(userID) < 0 {
		room.members = append(room.members, userID)
		events = append(events, RoomEvent{Kind: RoomUserJoined, RoomID: r, UserID: userID})
	}
	m.roomOf[userID] = r
	members = append([]string(nil), room.members...)
	m.mu.Unlock()

	m.emit(events)
	return left, members, nil
}

// Leave removes the user from roomID. Idempotent: leaving a room the user
// is not in is a no-op and reports false.
func (m *RoomManager) Leave(userID, roomID string) bool {
	r := normalizeRoom(roomID)

	m.mu.Lock()
	room, ok := m.rooms[r]
	if !ok {
		m.mu.Unlock()
		return false
	}
	i := room.memberIndex(userID)
	if i < 0 {
		m.mu.Unlock()
		return false
	}
	room.members = append(room.members[:i], room.members[i+1:]...)
	if m.roomOf[userID] == r {
		delete(m.roomOf, userID)
	}
	m.mu.Unlock()

	m.emit([]RoomEvent{{Kind: RoomUserLeft, RoomID: r, UserID: userID}})
	return true
}

// LeaveCurrent removes the user from whatever room it is in, returning the
// room ID, or "" when the user was roomless.
func (m *RoomManager) LeaveCurrent(userID string) string {
	m.mu.RLock()
	r, ok := m.roomOf[userID]
	m.mu.RUnlock()
	if !ok {
		return ""
	}
	if m.Leave(userID, r) {
		return r
	}
	return ""
}

// Delete removes a non-default room from the directory together with its
// memberships and emits a RoomUserLeft for each evicted member. Returns
// the evicted member IDs in join order.
func (m *RoomManager) Delete(roomID string) ([]string, error) {
	r := normalizeRoom(roomID)
	if r == m.defaultRoom {
		return nil, ErrDefaultRoom
	}

	m.mu.Lock()
	room, ok := m.rooms[r]
	if !ok {
		m.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	evicted := append([]string(nil), room.members...)
	delete(m.rooms, r)
	for _, id := range evicted {
		if m.roomOf[id] == r {
			delete(m.roomOf, id)
		}
	}
	m.mu.Unlock()

	events := make([]RoomEvent, 0, len(evicted))
	for _, id := range evicted {
		events = append(events, RoomEvent{Kind: RoomUserLeft, RoomID: r, UserID: id})
	}
	m.emit(events)
	return evicted, nil
}

// RoomOf returns the user's current room, if any.
func (m *RoomManager) RoomOf(userID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roomOf[userID]
	return r, ok
}

// IsMember reports whether the user is currently in roomID.
func (m *RoomManager) IsMember(userID, roomID string) bool {
	r := normalizeRoom(roomID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roomOf[userID] == r && r != ""
}

// MembersOf returns the join-ordered member IDs of roomID.
func (m *RoomManager) MembersOf(roomID string) []string {
	r := normalizeRoom(roomID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[r]
	if !ok {
		return nil
	}
	return append([]string(nil), room.members...)
}

// Rooms lists the directory sorted by room ID.
func (m *RoomManager) Rooms() []RoomInfo {
	m.mu.RLock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for _, room := range m.rooms {
		out = append(out, RoomInfo{ID: room.ID, Members: len(room.members), CreatedAt: room.CreatedAt})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *RoomManager) emit(events []RoomEvent) {
	if m.notify == nil {
		return
	}
	for _, ev := range events {
		m.notify(ev)
	}
}
