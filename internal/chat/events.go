package chat

import "encoding/json"

// Wire envelope. Every frame in either direction is
// {"event": <name>, "data": <payload>}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Inbound event names accepted from clients.
const (
	EventSetUsername    = "setUsername"
	EventSendMessage    = "sendMessage"
	EventJoinRoom       = "joinRoom"
	EventLeaveRoom      = "leaveRoom"
	EventTyping         = "typing"
	EventRequestHistory = "requestHistory"
)

// Outbound event names produced by the server.
const (
	EventConnected      = "connected"
	EventMessage        = "message"
	EventMessageHistory = "messageHistory"
	EventUserJoined     = "userJoined"
	EventUserLeft       = "userLeft"
	EventRoomUsers      = "roomUsers"
	EventUserTyping     = "userTyping"
	EventError          = "error"
)

// SendMessagePayload is the body of an inbound sendMessage event.
type SendMessagePayload struct {
	Content string      `json:"content"`
	Type    MessageType `json:"type,omitempty"`
	RoomID  string      `json:"roomId,omitempty"`
}

// ConnectedPayload acknowledges a successful setUsername.
type ConnectedPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// TypingPayload is the body of an outbound userTyping event.
type TypingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// encodeEvent marshals an outbound frame. Payloads are server-owned types,
// so a marshal failure here is a programming error; callers treat a nil
// result as "nothing to send".
func encodeEvent(event string, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	raw, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil
	}
	return raw
}
