package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConnState is the lifecycle state of one transport connection.
type ConnState int

const (
	StateHandshaking ConnState = iota
	StateIdentified
	StateActive
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateIdentified:
		return "identified"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection is the registry's record of one live transport connection.
// The registry owns it; other components address it by ID only.
type Connection struct {
	ID          string
	Client      *Client
	ConnectedAt time.Time

	mu     sync.Mutex
	state  ConnState
	userID string
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UserID returns the identity bound to this connection, or "" before
// setUsername succeeded.
func (c *Connection) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// ConnectionRegistry tracks live connections and the users derived from
// them. Usernames are unique among currently-online users only; records of
// disconnected users linger for a retention window so "last seen" queries
// keep working, then a sweeper hard-removes them.
type ConnectionRegistry struct {
	mu         sync.RWMutex
	conns      map[string]*Connection
	users      map[string]*User  // userID -> record, online and recently offline
	byUsername map[string]string // lowercased username -> userID, online only

	queueSize int
	retention time.Duration
	clock     func() time.Time
}

func NewConnectionRegistry(queueSize int, retention time.Duration, clock func() time.Time) *ConnectionRegistry {
	if clock == nil {
		clock = time.Now
	}
	return &ConnectionRegistry{
		conns:      make(map[string]*Connection),
		users:      make(map[string]*User),
		byUsername: make(map[string]string),
		queueSize:  queueSize,
		retention:  retention,
		clock:      clock,
	}
}

// Register wraps a freshly accepted transport into a Connection in the
// HANDSHAKING state.
func (r *ConnectionRegistry) Register(transport ConnLike) *Connection {
	c := &Connection{
		ID:          uuid.NewString(),
		Client:      newClient(transport, r.queueSize),
		ConnectedAt: r.clock(),
		state:       StateHandshaking,
	}
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
	return c
}

// Get looks up a live connection.
func (r *ConnectionRegistry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// Identify claims a username for a HANDSHAKING connection, creating its
// User and moving it to IDENTIFIED. The claim fails with ErrUsernameTaken
// while another online connection holds the same (case-folded) name, and
// with ErrInvalidState when invoked twice or after teardown started.
func (r *ConnectionRegistry) Identify(connID, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	key := strings.ToLower(username)

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil, ErrInvalidState
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateHandshaking {
		return nil, ErrInvalidState
	}
	if _, taken := r.byUsername[key]; taken {
		return nil, ErrUsernameTaken
	}

	now := r.clock()
	user := &User{
		ID:       c.ID,
		Username: username,
		IsOnline: true,
		LastSeen: now,
		JoinedAt: now,
	}
	r.users[user.ID] = user
	r.byUsername[key] = user.ID
	c.state = StateIdentified
	c.userID = user.ID
	return snapshotUser(user), nil
}

// Activate moves an IDENTIFIED connection to ACTIVE (first successful room
// join). Idempotent for already-active connections.
func (r *ConnectionRegistry) Activate(connID string) error {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return ErrInvalidState
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdentified:
		c.state = StateActive
		return nil
	case StateActive:
		return nil
	}
	return ErrInvalidState
}

// BeginClose marks a connection CLOSING so in-flight operations stop
// touching it. Returns false when teardown already ran (or started), which
// makes concurrent teardown paths collapse into one.
func (r *ConnectionRegistry) BeginClose(connID string) bool {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosing || c.state == StateClosed {
		return false
	}
	c.state = StateClosing
	return true
}

// Remove finishes teardown: the connection goes to CLOSED, the transport is
// released (exactly once, guarded inside Client), the username is freed and
// the user record flips to offline with LastSeen set. The soft user record
// stays until the retention sweep. Returns the affected user, if any.
func (r *ConnectionRegistry) Remove(connID string) *User {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.conns, connID)

	c.mu.Lock()
	c.state = StateClosed
	userID := c.userID
	c.mu.Unlock()

	var out *User
	if user, exists := r.users[userID]; exists {
		user.IsOnline = false
		user.LastSeen = r.clock()
		delete(r.byUsername, strings.ToLower(user.Username))
		out = snapshotUser(user)
	}
	r.mu.Unlock()

	c.Client.Close()
	return out
}

// SetUserOnline flips the online flag and stamps LastSeen. Idempotent; it
// leaves the username claim alone, that is released in Remove only.
func (r *ConnectionRegistry) SetUserOnline(userID string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return
	}
	user.IsOnline = online
	user.LastSeen = r.clock()
}

// UserByID returns a copy of the user record, online or retained.
func (r *ConnectionRegistry) UserByID(userID string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[userID]
	if !ok {
		return nil, false
	}
	return snapshotUser(user), true
}

// Sweep hard-removes user records that have been offline longer than the
// retention window. Returns how many were dropped.
func (r *ConnectionRegistry) Sweep() int {
	cutoff := r.clock().Add(-r.retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, user := range r.users {
		if !user.IsOnline && user.LastSeen.Before(cutoff) {
			delete(r.users, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of live connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func snapshotUser(u *User) *User {
	cp := *u
	return &cp
}
