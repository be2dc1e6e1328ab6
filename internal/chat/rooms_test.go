package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomNormalization(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"general", "general"},
		{"  general  ", "general"},
		{"/general", "general"},
		{"a//b", "a/b"},
		{"   ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeRoom(tt.in), "normalizeRoom(%q)", tt.in)
	}
}

func TestRoomJoinDefaultAutoCreate(t *testing.T) {
	clock := newFakeClock()
	rm := NewRoomManager("general", clock.Now)

	assert.True(t, rm.Exists("general"))

	// The default room is the only one created on demand.
	_, members, err := rm.Join("u1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members)

	_, _, err = rm.Join("u1", "nope")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomSingleMembership(t *testing.T) {
	clock := newFakeClock()
	rm := NewRoomManager("general", clock.Now)
	require.True(t, rm.Create("random"))

	var events []RoomEvent
	rm.Subscribe(func(ev RoomEvent) { events = append(events, ev) })

	_, _, err := rm.Join("u1", "general")
	require.NoError(t, err)

	// Switching rooms leaves the previous one first.
	left, members, err := rm.Join("u1", "random")
	require.NoError(t, err)
	assert.Equal(t, "general", left)
	assert.Equal(t, []string{"u1"}, members)
	assert.Empty(t, rm.MembersOf("general"))

	room, ok := rm.RoomOf("u1")
	require.True(t, ok)
	assert.Equal(t, "random", room)
	assert.True(t, rm.IsMember("u1", "random"))
	assert.False(t, rm.IsMember("u1", "general"))

	require.Len(t, events, 3)
	assert.Equal(t, RoomUserJoined, events[0].Kind)
	assert.Equal(t, RoomUserLeft, events[1].Kind)
	assert.Equal(t, "general", events[1].RoomID)
	assert.Equal(t, RoomUserJoined, events[2].Kind)
	assert.Equal(t, "random", events[2].RoomID)
}

func TestRoomJoinOrder(t *testing.T) {
	clock := newFakeClock()
	rm := NewRoomManager("general", clock.Now)

	for _, u := range []string{"u3", "u1", "u2"} {
		_, _, err := rm.Join(u, "general")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"u3", "u1", "u2"}, rm.MembersOf("general"))

	// Rejoining the same room does not reshuffle the order.
	_, _, err := rm.Join("u3", "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"u3", "u1", "u2"}, rm.MembersOf("general"))

	rm.Leave("u1", "general")
	assert.Equal(t, []string{"u3", "u2"}, rm.MembersOf("general"))
}

func TestRoomLeaveIdempotent(t *testing.T) {
	clock := newFakeClock()
	rm := NewRoomManager("general", clock.Now)

	_, _, err := rm.Join("u1", "general")
	require.NoError(t, err)

	assert.True(t, rm.Leave("u1", "general"))
	membersAfterFirst := rm.MembersOf("general")

	// Second leave: same state, no event, no error.
	var events []RoomEvent
	rm.Subscribe(func(ev RoomEvent) { events = append(events, ev) })
	assert.False(t, rm.Leave("u1", "general"))
	assert.Equal(t, membersAfterFirst, rm.MembersOf("general"))
	assert.Empty(t, events)

	// Leaving an unknown room is also a no-op.
	assert.False(t, rm.Leave("u1", "missing"))
}

func TestRoomCreate(t *testing.T) {
	clock := newFakeClock()
	rm := NewRoomManager("general", clock.Now)

	assert.True(t, rm.Create("random"))
	assert.False(t, rm.Create("random"), "duplicate create")
	assert.False(t, rm.Create("   "), "blank name")
	assert.False(t, rm.Create("general"), "default already exists")

	rooms := rm.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "general", rooms[0].ID)
	assert.Equal(t, "random", rooms[1].ID)
}

func TestRoomLeaveCurrent(t *testing.T) {
	clock := newFakeClock()
	rm := NewRoomManager("general", clock.Now)

	assert.Equal(t, "", rm.LeaveCurrent("u1"))

	_, _, err := rm.Join("u1", "general")
	require.NoError(t, err)
	assert.Equal(t, "general", rm.LeaveCurrent("u1"))
	_, ok := rm.RoomOf("u1")
	assert.False(t, ok)
}

func TestRoomDelete(t *testing.T) {
	clock := newFakeClock()
	rm := NewRoomManager("general", clock.Now)
	require.True(t, rm.Create("random"))

	for _, u := range []string{"u1", "u2"} {
		_, _, err := rm.Join(u, "random")
		require.NoError(t, err)
	}

	var events []RoomEvent
	rm.Subscribe(func(ev RoomEvent) { events = append(events, ev) })

	evicted, err := rm.Delete("random")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, evicted, "eviction keeps join order")
	assert.False(t, rm.Exists("random"))

	// Evicted users are roomless, not silently reparented.
	for _, u := range evicted {
		_, ok := rm.RoomOf(u)
		assert.False(t, ok, "user %s still has a room", u)
	}

	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, RoomUserLeft, ev.Kind)
		assert.Equal(t, "random", ev.RoomID)
	}
}

func TestRoomDeleteGuards(t *testing.T) {
	clock := newFakeClock()
	rm := NewRoomManager("general", clock.Now)

	_, err := rm.Delete("general")
	assert.ErrorIs(t, err, ErrDefaultRoom)
	assert.True(t, rm.Exists("general"))

	_, err = rm.Delete("missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}
