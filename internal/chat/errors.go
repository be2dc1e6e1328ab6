package chat

import "errors"

// Error kinds reported back to clients. Validation errors only ever reach
// the connection that caused them; ErrTransportFailure drives the affected
// connection to CLOSED.
var (
	ErrUsernameTaken    = errors.New("username is already taken")
	ErrInvalidState     = errors.New("operation not allowed in current connection state")
	ErrRoomNotFound     = errors.New("room not found")
	ErrNotAMember       = errors.New("user is not a member of the room")
	ErrEmptyContent     = errors.New("message content is empty")
	ErrEmptyUsername    = errors.New("username is empty")
	ErrDefaultRoom      = errors.New("the default room cannot be deleted")
	ErrTransportFailure = errors.New("transport failed")
)
