package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/pelusa-v/socket-chat/internal/chat"
)

// ChatHandlers binds the chat core to fiber routes. The websocket endpoint
// feeds connections into the core's session loop; the REST endpoints are
// the polling companion and go through the same broker contracts.
type ChatHandlers struct {
	Manager *chat.Manager
}

func New(m *chat.Manager) *ChatHandlers {
	return &ChatHandlers{Manager: m}
}

// WebSocketHandler GET /ws runs the session until the transport goes away.
func (h *ChatHandlers) WebSocketHandler(c *websocket.Conn) {
	h.Manager.HandleConnection(c)
}

// MessagesHandler GET /api/messages?roomId=&limit=
func (h *ChatHandlers) MessagesHandler(c *fiber.Ctx) error {
	roomID := c.Query("roomId", "general")
	limit := 0
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid limit"})
		}
		limit = parsed
	}
	return c.JSON(fiber.Map{"messages": h.Manager.History(roomID, limit)})
}

type postMessageRequest struct {
	Content  string           `json:"content"`
	Username string           `json:"username"`
	Type     chat.MessageType `json:"type"`
	RoomID   string           `json:"roomId"`
}

// PostMessageHandler POST /api/messages publishes on behalf of a client
// with no open socket. The message fans out to connected members as usual.
func (h *ChatHandlers) PostMessageHandler(c *fiber.Ctx) error {
	var req postMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.Username) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "username is required"})
	}

	msg, err := h.Manager.PostMessage(req.Username, req.RoomID, req.Content, req.Type)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// RoomsHandler GET /api/rooms
func (h *ChatHandlers) RoomsHandler(c *fiber.Ctx) error {
	return c.JSON(h.Manager.Rooms())
}

type createRoomRequest struct {
	Name string `json:"name"`
}

// CreateRoomHandler POST /api/rooms
func (h *ChatHandlers) CreateRoomHandler(c *fiber.Ctx) error {
	var req createRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if !h.Manager.CreateRoom(req.Name) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "room already exists or name is invalid"})
	}
	return c.SendStatus(fiber.StatusCreated)
}

// DeleteRoomHandler DELETE /api/rooms/:room
func (h *ChatHandlers) DeleteRoomHandler(c *fiber.Ctx) error {
	if err := h.Manager.DeleteRoom(c.Params("room")); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RoomUsersHandler GET /api/rooms/:room/users
func (h *ChatHandlers) RoomUsersHandler(c *fiber.Ctx) error {
	users, err := h.Manager.RoomUsers(c.Params("room"))
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(users)
}

// IndexHandler GET / renders the room directory page.
func (h *ChatHandlers) IndexHandler(c *fiber.Ctx) error {
	return c.Render("index", fiber.Map{
		"Rooms":       h.Manager.Rooms(),
		"Connections": h.Manager.ConnectionCount(),
	})
}

// statusFor maps core error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrRoomNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, chat.ErrEmptyContent), errors.Is(err, chat.ErrEmptyUsername):
		return fiber.StatusBadRequest
	case errors.Is(err, chat.ErrNotAMember), errors.Is(err, chat.ErrUsernameTaken):
		return fiber.StatusConflict
	case errors.Is(err, chat.ErrDefaultRoom):
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}
