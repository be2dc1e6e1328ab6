package chat

import (
	"sort"
	"sync"
	"time"
)

// userStatusStore is the slice of the registry the presence tracker needs.
type userStatusStore interface {
	SetUserOnline(userID string, online bool)
}

type typingEntry struct {
	username string
	lastSeen time.Time
}

// PresenceTracker derives online/offline and typing state from connection
// and room events. Typing entries expire after a fixed timeout even when no
// explicit "stopped typing" signal arrives, since a client may die without
// saying goodbye; a background sweep compacts the map and reads filter
// lazily against the same deadline.
type PresenceTracker struct {
	users   userStatusStore
	timeout time.Duration
	clock   func() time.Time

	mu     sync.Mutex
	typing map[string]map[string]typingEntry // roomID -> userID -> entry

	// onExpire, when set, is invoked (outside the lock) for every entry the
	// sweeper evicts, so the owning room can be told the user went quiet.
	onExpire func(roomID, userID, username string)

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewPresenceTracker(users userStatusStore, timeout time.Duration, clock func() time.Time) *PresenceTracker {
	if clock == nil {
		clock = time.Now
	}
	return &PresenceTracker{
		users:   users,
		timeout: timeout,
		clock:   clock,
		typing:  make(map[string]map[string]typingEntry),
		stopCh:  make(chan struct{}),
	}
}

// OnExpire registers the eviction callback. Wire once at startup.
func (p *PresenceTracker) OnExpire(fn func(roomID, userID, username string)) {
	p.onExpire = fn
}

// SetOnline marks the user online. Idempotent.
func (p *PresenceTracker) SetOnline(userID string) {
	p.users.SetUserOnline(userID, true)
}

// SetOffline marks the user offline and forgets any typing state it still
// holds. Idempotent.
func (p *PresenceTracker) SetOffline(userID string) {
	p.users.SetUserOnline(userID, false)
	p.mu.Lock()
	for roomID, room := range p.typing {
		delete(room, userID)
		if len(room) == 0 {
			delete(p.typing, roomID)
		}
	}
	p.mu.Unlock()
}

// SetTyping records or clears the (room, user) typing signal.
func (p *PresenceTracker) SetTyping(roomID, userID, username string, isTyping bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	room := p.typing[roomID]
	if !isTyping {
		if room != nil {
			delete(room, userID)
			if len(room) == 0 {
				delete(p.typing, roomID)
			}
		}
		return
	}
	if room == nil {
		room = make(map[string]typingEntry)
		p.typing[roomID] = room
	}
	room[userID] = typingEntry{username: username, lastSeen: p.clock()}
}

// TypingUsersOf returns the usernames currently typing in roomID, sorted,
// excluding excludeUserID (callers never see themselves typing). Entries
// past the timeout are filtered out even if the sweeper has not run yet.
func (p *PresenceTracker) TypingUsersOf(roomID, excludeUserID string) []string {
	deadline := p.clock().Add(-p.timeout)
	p.mu.Lock()
	defer p.mu.Unlock()
	room := p.typing[roomID]
	if len(room) == 0 {
		return nil
	}
	out := make([]string, 0, len(room))
	for userID, entry := range room {
		if userID == excludeUserID || entry.lastSeen.Before(deadline) {
			continue
		}
		out = append(out, entry.username)
	}
	sort.Strings(out)
	return out
}

// Run sweeps expired typing entries until Stop is called. Meant to run on
// its own goroutine.
func (p *PresenceTracker) Run() {
	ticker := time.NewTicker(p.timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// Stop terminates the sweeper goroutine.
func (p *PresenceTracker) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

type expiredTyping struct {
	roomID, userID, username string
}

func (p *PresenceTracker) sweep() {
	deadline := p.clock().Add(-p.timeout)

	var expired []expiredTyping
	p.mu.Lock()
	for roomID, room := range p.typing {
		for userID, entry := range room {
			if entry.lastSeen.Before(deadline) {
				delete(room, userID)
				expired = append(expired, expiredTyping{roomID, userID, entry.username})
			}
		}
		if len(room) == 0 {
			delete(p.typing, roomID)
		}
	}
	p.mu.Unlock()

	if p.onExpire != nil {
		for _, e := range expired {
			p.onExpire(e.roomID, e.userID, e.username)
		}
	}
}
