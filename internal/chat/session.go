package chat

import (
	"encoding/json"
	"io"

	"github.com/gofiber/contrib/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// session drives one connection from handshake to teardown. All inbound
// events of a connection are handled on its own read goroutine, strictly
// in arrival order; concurrency exists only between sessions.
type session struct {
	m    *Manager
	conn *Connection
}

// inboundHandlers routes inbound events to their handler. A handler's
// returned error is reported to the offending connection only, via the
// error event; it never touches other connections or room state.
var inboundHandlers = map[string]func(*session, json.RawMessage) error{
	EventSetUsername:    (*session).handleSetUsername,
	EventSendMessage:    (*session).handleSendMessage,
	EventJoinRoom:       (*session).handleJoinRoom,
	EventLeaveRoom:      (*session).handleLeaveRoom,
	EventTyping:         (*session).handleTyping,
	EventRequestHistory: (*session).handleRequestHistory,
}

// HandleConnection runs the full lifetime of one transport connection:
// register, pump events, tear down. It blocks until the transport is gone,
// which matches how the websocket handler layer calls it.
func (m *Manager) HandleConnection(transport ConnLike) {
	conn := m.registry.Register(transport)
	m.log.Info("connection established", zap.String("conn", conn.ID))

	go conn.Client.WritePump()

	s := &session{m: m, conn: conn}
	if err := s.readLoop(); err != nil {
		m.log.Warn("connection lost",
			zap.String("conn", conn.ID), zap.Error(err))
	}
	m.teardown(conn)
}

func (s *session) readLoop() (err error) {
	// A fault while handling one connection's event must not take the
	// process down with it; recovering here lets HandleConnection run
	// teardown as usual, so the blast radius stays one connection.
	defer func() {
		if r := recover(); r != nil {
			s.m.log.Error("panic in session handler",
				zap.String("conn", s.conn.ID), zap.Any("panic", r))
		}
	}()
	for {
		data, err := s.conn.Client.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				// Orderly close from the peer.
				return nil
			}
			return errors.Wrap(ErrTransportFailure, err.Error())
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(errors.Wrap(err, "malformed frame"))
			continue
		}
		handler, ok := inboundHandlers[env.Event]
		if !ok {
			s.sendError(errors.Errorf("unknown event %q", env.Event))
			continue
		}
		if err := handler(s, env.Data); err != nil {
			s.sendError(err)
		}
	}
}

// send enqueues an outbound frame for this connection, dropping it
// silently when the connection is already on its way out.
func (s *session) send(event string, payload any) {
	s.conn.Client.Enqueue(encodeEvent(event, payload))
}

func (s *session) sendError(err error) {
	s.send(EventError, err.Error())
}

// handleSetUsername claims the username, announces the identity back and
// auto-joins the default room.
func (s *session) handleSetUsername(data json.RawMessage) error {
	var username string
	if err := json.Unmarshal(data, &username); err != nil {
		return errors.Wrap(err, "setUsername")
	}
	user, err := s.m.registry.Identify(s.conn.ID, username)
	if err != nil {
		return err
	}
	s.m.presence.SetOnline(user.ID)
	s.m.log.Info("user identified",
		zap.String("conn", s.conn.ID), zap.String("username", user.Username))

	s.send(EventConnected, ConnectedPayload{UserID: user.ID, Username: user.Username})
	return s.joinRoom(s.m.rooms.DefaultRoom())
}

func (s *session) handleJoinRoom(data json.RawMessage) error {
	var roomID string
	if err := json.Unmarshal(data, &roomID); err != nil {
		return errors.Wrap(err, "joinRoom")
	}
	if s.conn.UserID() == "" {
		return ErrInvalidState
	}
	return s.joinRoom(roomID)
}

// joinRoom admits the connection's user to a room and replays state to it:
// the retained history first, then the join-ordered member snapshot. Other
// members learn about the join through the room manager's notifications.
func (s *session) joinRoom(roomID string) error {
	userID := s.conn.UserID()
	room := normalizeRoom(roomID)
	if room == "" {
		room = s.m.rooms.DefaultRoom()
	}

	_, members, err := s.m.rooms.Join(userID, room)
	if err != nil {
		return err
	}
	if err := s.m.registry.Activate(s.conn.ID); err != nil {
		// Teardown won the race while this frame was in flight: the
		// connection is CLOSING or CLOSED and its cleanup has already
		// left every room, so undo the admission or the dead user
		// would sit in the member list forever.
		s.m.rooms.Leave(userID, room)
		return err
	}

	s.send(EventMessageHistory, s.m.broker.History(room, 0))
	s.send(EventRoomUsers, s.m.usersOf(members))
	return nil
}

func (s *session) handleLeaveRoom(data json.RawMessage) error {
	var roomID string
	if err := json.Unmarshal(data, &roomID); err != nil {
		return errors.Wrap(err, "leaveRoom")
	}
	userID := s.conn.UserID()
	if userID == "" {
		return ErrInvalidState
	}
	// Idempotent: leaving a room the user is not in is not an error.
	s.m.rooms.Leave(userID, roomID)
	return nil
}

func (s *session) handleSendMessage(data json.RawMessage) error {
	var payload SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return errors.Wrap(err, "sendMessage")
	}
	userID := s.conn.UserID()
	if userID == "" {
		return ErrInvalidState
	}
	user, ok := s.m.registry.UserByID(userID)
	if !ok {
		return ErrInvalidState
	}
	room := payload.RoomID
	if room == "" {
		room, _ = s.m.rooms.RoomOf(userID)
	}
	// The sender gets its own copy through the room fan-out, same as
	// everyone else. No local echo: one code path, one consistent view.
	_, err := s.m.broker.Send(user, room, payload.Content, payload.Type)
	return err
}

func (s *session) handleTyping(data json.RawMessage) error {
	var isTyping bool
	if err := json.Unmarshal(data, &isTyping); err != nil {
		return errors.Wrap(err, "typing")
	}
	userID := s.conn.UserID()
	if userID == "" {
		return ErrInvalidState
	}
	room, ok := s.m.rooms.RoomOf(userID)
	if !ok {
		return nil
	}
	user, ok := s.m.registry.UserByID(userID)
	if !ok {
		return nil
	}

	s.m.presence.SetTyping(room, userID, user.Username, isTyping)
	if st := s.conn.State(); st == StateClosing || st == StateClosed {
		// Teardown ran between the membership check and the insert;
		// its SetOffline may have missed this entry, so clear it here
		// rather than leave a phantom typist behind.
		s.m.presence.SetTyping(room, userID, user.Username, false)
		return nil
	}
	payload := encodeEvent(EventUserTyping, TypingPayload{
		UserID:   userID,
		Username: user.Username,
		IsTyping: isTyping,
	})
	s.m.broadcastToRoom(room, payload, userID)
	return nil
}

func (s *session) handleRequestHistory(data json.RawMessage) error {
	var roomID string
	if len(data) > 0 {
		if err := json.Unmarshal(data, &roomID); err != nil {
			return errors.Wrap(err, "requestHistory")
		}
	}
	room := normalizeRoom(roomID)
	if room == "" {
		if current, ok := s.m.rooms.RoomOf(s.conn.UserID()); ok {
			room = current
		} else {
			room = s.m.rooms.DefaultRoom()
		}
	}
	if !s.m.rooms.Exists(room) {
		return ErrRoomNotFound
	}
	s.send(EventMessageHistory, s.m.broker.History(room, 0))
	return nil
}
