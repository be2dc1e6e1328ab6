package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// membershipChecker answers whether a user may publish into a room.
type membershipChecker interface {
	IsMember(userID, roomID string) bool
}

// MessageBroker validates, timestamps, stores and fans out chat messages.
// History is bounded per room with FIFO eviction; timestamps are
// server-authoritative and strictly increasing, so history order never
// depends on anything a client claims.
type MessageBroker struct {
	members  membershipChecker
	capacity int
	clock    func() time.Time

	mu      sync.Mutex
	history map[string][]Message
	lastTS  time.Time

	// fanout delivers a committed message to every current member of its
	// room, sender included. Wired once at startup.
	fanout func(msg *Message)
}

func NewMessageBroker(members membershipChecker, capacity int, clock func() time.Time) *MessageBroker {
	if clock == nil {
		clock = time.Now
	}
	return &MessageBroker{
		members:  members,
		capacity: capacity,
		clock:    clock,
		history:  make(map[string][]Message),
	}
}

// OnMessage registers the fan-out sink. The sink runs with the broker's
// lock held so delivery order matches history order; it must not call
// back into the broker or block.
func (b *MessageBroker) OnMessage(fn func(msg *Message)) {
	b.fanout = fn
}

// Send validates and commits a message from user into roomID, then fans it
// out to every member of the room. The sender receives its own message via
// the same fan-out path as everyone else; there is deliberately no local
// echo anywhere, so all views converge on the single committed copy.
func (b *MessageBroker) Send(user *User, roomID, content string, msgType MessageType) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if !msgType.Valid() {
		// Unknown or missing types collapse to text; "system" stays
		// reserved for server-produced frames.
		msgType = MessageText
	}
	roomID = normalizeRoom(roomID)
	if !b.members.IsMember(user.ID, roomID) {
		return nil, ErrNotAMember
	}

	msg := Message{
		ID:       uuid.NewString(),
		UserID:   user.ID,
		Username: user.Username,
		Content:  content,
		Type:     msgType,
		RoomID:   roomID,
	}

	b.mu.Lock()
	msg.Timestamp = b.nextTimestampLocked()
	room := append(b.history[roomID], msg)
	if len(room) > b.capacity {
		room = room[len(room)-b.capacity:]
	}
	b.history[roomID] = room
	// Fan out while still holding the lock that serialized the append,
	// so the order members receive messages in can never contradict a
	// later history replay. The sink only does non-blocking enqueues,
	// so the lock is never held across a stalled peer.
	if b.fanout != nil {
		b.fanout(&msg)
	}
	b.mu.Unlock()

	return &msg, nil
}

// History returns the room's messages oldest first. A non-positive limit
// returns everything retained; otherwise the newest limit messages are
// returned, still in chronological order.
func (b *MessageBroker) History(roomID string, limit int) []Message {
	roomID = normalizeRoom(roomID)
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.history[roomID]
	if limit > 0 && len(room) > limit {
		room = room[len(room)-limit:]
	}
	// Non-nil even when empty: this marshals as [] on the wire.
	out := make([]Message, 0, len(room))
	return append(out, room...)
}

// DropRoom discards the history of a room that left the directory.
func (b *MessageBroker) DropRoom(roomID string) {
	b.mu.Lock()
	delete(b.history, normalizeRoom(roomID))
	b.mu.Unlock()
}

// nextTimestampLocked hands out wall-clock timestamps nudged forward just
// enough to stay strictly increasing when sends land within the same tick.
func (b *MessageBroker) nextTimestampLocked() time.Time {
	ts := b.clock()
	if !ts.After(b.lastTS) {
		ts = b.lastTS.Add(time.Millisecond)
	}
	b.lastTS = ts
	return ts
}
