package chat

import "time"

// MessageType mirrors the kinds understood by the web client.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
)

// Valid reports whether t is a type a client may submit. System messages
// are produced by the server only.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

// Message is a chat message as it appears both in room history and on the
// wire. Immutable once created; the username is a snapshot taken at send
// time so later disconnects do not rewrite history.
type Message struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	Username  string      `json:"username"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageType `json:"type"`
	RoomID    string      `json:"roomId"`
}

// User is the identity a connection assumes after claiming a username.
// Its ID is derived 1:1 from the owning connection.
type User struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
	JoinedAt time.Time `json:"joinedAt"`
}

// RoomInfo is the directory entry returned by the rooms listing API.
type RoomInfo struct {
	ID        string    `json:"id"`
	Members   int       `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}
