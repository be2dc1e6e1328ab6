package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticMembership map[string]string // userID -> roomID

func (m staticMembership) IsMember(userID, roomID string) bool {
	return m[userID] == roomID
}

func newTestBroker(capacity int, clock *fakeClock) (*MessageBroker, staticMembership) {
	members := staticMembership{"u1": "general", "u2": "general", "u3": "random"}
	return NewMessageBroker(members, capacity, clock.Now), members
}

var alice = &User{ID: "u1", Username: "alice"}

func TestBrokerSendValidation(t *testing.T) {
	clock := newFakeClock()
	b, _ := newTestBroker(10, clock)

	_, err := b.Send(alice, "general", "   ", MessageText)
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = b.Send(alice, "random", "hi", MessageText)
	assert.ErrorIs(t, err, ErrNotAMember)

	msg, err := b.Send(alice, "general", "  hi  ", "")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Content, "content is trimmed")
	assert.Equal(t, MessageText, msg.Type, "missing type defaults to text")
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, "general", msg.RoomID)
	assert.NotEmpty(t, msg.ID)
}

func TestBrokerFanOutIncludesSender(t *testing.T) {
	clock := newFakeClock()
	b, _ := newTestBroker(10, clock)

	var delivered []*Message
	b.OnMessage(func(msg *Message) { delivered = append(delivered, msg) })

	sent, err := b.Send(alice, "general", "hi", MessageText)
	require.NoError(t, err)

	// One fan-out per committed message; the sender is not special-cased,
	// its echo comes from the same path.
	require.Len(t, delivered, 1)
	assert.Equal(t, sent.ID, delivered[0].ID)
}

func TestBrokerHistoryOrderAndIsolation(t *testing.T) {
	clock := newFakeClock()
	b, _ := newTestBroker(100, clock)
	carol := &User{ID: "u3", Username: "carol"}

	// All sends inside one clock tick still get strictly increasing
	// server timestamps.
	for i := 0; i < 5; i++ {
		_, err := b.Send(alice, "general", fmt.Sprintf("m%d", i), MessageText)
		require.NoError(t, err)
	}
	_, err := b.Send(carol, "random", "other room", MessageText)
	require.NoError(t, err)

	hist := b.History("general", 0)
	require.Len(t, hist, 5)
	for i := 1; i < len(hist); i++ {
		assert.True(t, hist[i].Timestamp.After(hist[i-1].Timestamp),
			"timestamps must increase: %v then %v", hist[i-1].Timestamp, hist[i].Timestamp)
	}
	for _, msg := range hist {
		assert.Equal(t, "general", msg.RoomID)
	}
}

func TestBrokerBoundedHistoryFIFO(t *testing.T) {
	clock := newFakeClock()
	b, _ := newTestBroker(3, clock)

	for i := 0; i < 4; i++ {
		_, err := b.Send(alice, "general", fmt.Sprintf("m%d", i), MessageText)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	hist := b.History("general", 0)
	require.Len(t, hist, 3)
	// Oldest evicted first, verified by content.
	assert.Equal(t, "m1", hist[0].Content)
	assert.Equal(t, "m2", hist[1].Content)
	assert.Equal(t, "m3", hist[2].Content)
}

func TestBrokerHistoryLimit(t *testing.T) {
	clock := newFakeClock()
	b, _ := newTestBroker(100, clock)

	for i := 0; i < 5; i++ {
		_, err := b.Send(alice, "general", fmt.Sprintf("m%d", i), MessageText)
		require.NoError(t, err)
	}

	hist := b.History("general", 2)
	require.Len(t, hist, 2)
	assert.Equal(t, "m3", hist[0].Content)
	assert.Equal(t, "m4", hist[1].Content)

	assert.NotNil(t, b.History("empty-room", 0), "history is [] on the wire, never null")
}

func TestBrokerDropRoom(t *testing.T) {
	clock := newFakeClock()
	b, _ := newTestBroker(10, clock)

	_, err := b.Send(alice, "general", "hi", MessageText)
	require.NoError(t, err)
	b.DropRoom("general")
	assert.Empty(t, b.History("general", 0))
}
