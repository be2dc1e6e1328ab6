package chat

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// Manager wires the connection registry, room manager, presence tracker
// and message broker together and owns the event routing between them.
// There is no package-level instance: every server builds its own Manager,
// so each connection's session state stays independently addressable and
// independently destructible.
type Manager struct {
	cfg Config
	log *zap.Logger

	registry *ConnectionRegistry
	rooms    *RoomManager
	presence *PresenceTracker
	broker   *MessageBroker

	stopCh chan struct{}
}

// NewManager assembles a chat core from cfg. Pass a nil clock for wall
// time; tests inject their own.
func NewManager(cfg Config, log *zap.Logger, clock func() time.Time) *Manager {
	cfg.normalize()
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}

	m := &Manager{
		cfg:    cfg,
		log:    log,
		stopCh: make(chan struct{}),
	}
	m.registry = NewConnectionRegistry(cfg.SendQueueSize, cfg.RetentionWindow, clock)
	m.rooms = NewRoomManager(cfg.DefaultRoom, clock)
	m.presence = NewPresenceTracker(m.registry, cfg.TypingTimeout, clock)
	m.broker = NewMessageBroker(restMembership{m}, cfg.HistoryCapacity, clock)

	m.rooms.Subscribe(m.onRoomEvent)
	m.broker.OnMessage(m.onMessage)
	m.presence.OnExpire(m.onTypingExpired)
	return m
}

// Start launches the background sweepers (typing expiry, user retention).
func (m *Manager) Start() {
	go m.presence.Run()
	go m.retentionLoop()
}

// Stop terminates the background sweepers. Live connections are not
// touched; the HTTP server's shutdown closes those.
func (m *Manager) Stop() {
	m.presence.Stop()
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
}

func (m *Manager) retentionLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if n := m.registry.Sweep(); n > 0 {
				m.log.Debug("swept retained users", zap.Int("removed", n))
			}
		}
	}
}

// onRoomEvent translates membership changes into wire notifications for
// the affected room. The joiner itself is served directly by the session
// (history replay plus a roomUsers snapshot), so it is excluded here.
func (m *Manager) onRoomEvent(ev RoomEvent) {
	switch ev.Kind {
	case RoomUserJoined:
		user, ok := m.registry.UserByID(ev.UserID)
		if !ok {
			return
		}
		m.broadcastToRoom(ev.RoomID, encodeEvent(EventUserJoined, user), ev.UserID)
	case RoomUserLeft:
		m.broadcastToRoom(ev.RoomID, encodeEvent(EventUserLeft, ev.UserID), ev.UserID)
	}
}

// onMessage is the broker's fan-out sink: one committed message goes to
// every current member of its room, sender included.
func (m *Manager) onMessage(msg *Message) {
	m.broadcastToRoom(msg.RoomID, encodeEvent(EventMessage, msg), "")
}

func (m *Manager) onTypingExpired(roomID, userID, username string) {
	payload := encodeEvent(EventUserTyping, TypingPayload{
		UserID:   userID,
		Username: username,
		IsTyping: false,
	})
	m.broadcastToRoom(roomID, payload, userID)
}

// broadcastToRoom enqueues payload to every member of roomID except
// excludeUserID. Members whose outbound queue is full (or already closed)
// are dropped asynchronously; a slow reader never stalls the room.
func (m *Manager) broadcastToRoom(roomID string, payload []byte, excludeUserID string) {
	if payload == nil {
		return
	}
	var stragglers []string
	for _, userID := range m.rooms.MembersOf(roomID) {
		if userID == excludeUserID {
			continue
		}
		conn, ok := m.registry.Get(userID)
		if !ok {
			continue
		}
		if !conn.Client.Enqueue(payload) {
			stragglers = append(stragglers, userID)
		}
	}
	for _, userID := range stragglers {
		m.log.Warn("dropping connection with full send queue",
			zap.String("conn", userID), zap.String("room", roomID))
		go m.dropConnection(userID)
	}
}

// dropConnection drives a connection to CLOSED from outside its session
// goroutine. Safe to race with the session's own teardown; whoever flips
// the state to CLOSING first runs the cleanup.
func (m *Manager) dropConnection(connID string) {
	conn, ok := m.registry.Get(connID)
	if !ok {
		return
	}
	conn.Client.Close()
	m.teardown(conn)
}

// teardown runs the CLOSING→CLOSED sequence: leave the current room
// (notifying remaining members), flip presence to offline, release the
// connection and its transport. Any state may arrive here directly on
// abrupt transport failure.
func (m *Manager) teardown(c *Connection) {
	if !m.registry.BeginClose(c.ID) {
		return
	}
	userID := c.UserID()
	if userID != "" {
		m.rooms.LeaveCurrent(userID)
		m.presence.SetOffline(userID)
	}
	user := m.registry.Remove(c.ID)
	if user != nil {
		m.log.Info("connection closed",
			zap.String("conn", c.ID), zap.String("username", user.Username))
	} else {
		m.log.Info("connection closed", zap.String("conn", c.ID))
	}
}

// usersOf resolves member IDs to user snapshots, preserving order.
func (m *Manager) usersOf(memberIDs []string) []User {
	out := make([]User, 0, len(memberIDs))
	for _, id := range memberIDs {
		if user, ok := m.registry.UserByID(id); ok {
			out = append(out, *user)
		}
	}
	return out
}

// History exposes the broker's history contract to the HTTP surface.
func (m *Manager) History(roomID string, limit int) []Message {
	return m.broker.History(roomID, limit)
}

// Rooms lists the room directory.
func (m *Manager) Rooms() []RoomInfo {
	return m.rooms.Rooms()
}

// CreateRoom adds a room to the directory. Reports false when it already
// exists or the name normalizes to empty.
func (m *Manager) CreateRoom(name string) bool {
	return m.rooms.Create(name)
}

// DeleteRoom removes a room from the directory, evicting its members and
// discarding its retained history. Evicted members are handed an empty
// roomUsers snapshot so their view of the dead room does not go stale.
func (m *Manager) DeleteRoom(name string) error {
	evicted, err := m.rooms.Delete(name)
	if err != nil {
		return err
	}
	m.broker.DropRoom(name)

	payload := encodeEvent(EventRoomUsers, []User{})
	for _, userID := range evicted {
		if conn, ok := m.registry.Get(userID); ok {
			conn.Client.Enqueue(payload)
		}
	}
	m.log.Info("room deleted",
		zap.String("room", normalizeRoom(name)), zap.Int("evicted", len(evicted)))
	return nil
}

// RoomUsers returns the join-ordered member snapshot of a room.
func (m *Manager) RoomUsers(roomID string) ([]User, error) {
	if !m.rooms.Exists(roomID) {
		return nil, ErrRoomNotFound
	}
	return m.usersOf(m.rooms.MembersOf(roomID)), nil
}

// TypingUsers returns who is typing in a room right now.
func (m *Manager) TypingUsers(roomID, excludeUserID string) []string {
	return m.presence.TypingUsersOf(normalizeRoom(roomID), excludeUserID)
}

// ConnectionCount reports the number of live transport connections.
func (m *Manager) ConnectionCount() int {
	return m.registry.Count()
}

const restUserPrefix = "rest:"

// PostMessage publishes through the broker on behalf of a REST caller that
// has no open connection. The polling client identifies itself by username
// alone, so the identity is ephemeral: it never appears in room membership
// or presence, but the message takes the same validation, timestamping,
// history and fan-out path as every socket send.
func (m *Manager) PostMessage(username, roomID, content string, msgType MessageType) (*Message, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	room := normalizeRoom(roomID)
	if room == "" {
		room = m.rooms.DefaultRoom()
	}
	if !m.rooms.Exists(room) {
		return nil, ErrRoomNotFound
	}
	user := &User{ID: restUserPrefix + username, Username: username}
	return m.broker.Send(user, room, content, msgType)
}

// restMembership adapts the room manager for the broker: socket users must
// be members of the room they post to, REST identities only need the room
// to exist.
type restMembership struct{ m *Manager }

func (r restMembership) IsMember(userID, roomID string) bool {
	if strings.HasPrefix(userID, restUserPrefix) {
		return r.m.rooms.Exists(roomID)
	}
	return r.m.rooms.IsMember(userID, roomID)
}
