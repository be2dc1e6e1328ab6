package chat

import (
	"os"
	"strconv"
	"time"
)

// Config carries the tunables of the chat core. Zero values are replaced
// by defaults in normalize, so a partially filled Config is fine.
type Config struct {
	// Addr is the listen address of the HTTP/WebSocket server.
	Addr string
	// DefaultRoom is auto-created and auto-joined after setUsername.
	DefaultRoom string
	// HistoryCapacity bounds per-room message history (FIFO eviction).
	HistoryCapacity int
	// TypingTimeout evicts typing indicators that never got an explicit
	// "stopped typing" signal.
	TypingTimeout time.Duration
	// RetentionWindow keeps disconnected user records around before they
	// are hard-removed.
	RetentionWindow time.Duration
	// SendQueueSize is the per-connection outbound buffer. A connection
	// whose queue overflows is dropped rather than stalling its room.
	SendQueueSize int
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:3000",
		DefaultRoom:     "general",
		HistoryCapacity: 500,
		TypingTimeout:   3 * time.Second,
		RetentionWindow: 5 * time.Minute,
		SendQueueSize:   64,
	}
}

// LoadConfig builds a Config from defaults plus CHAT_* environment
// overrides. Invalid values fall back to the default silently.
func LoadConfig() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("CHAT_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("CHAT_DEFAULT_ROOM"); v != "" {
		cfg.DefaultRoom = v
	}
	if v, err := strconv.Atoi(os.Getenv("CHAT_HISTORY_CAPACITY")); err == nil && v > 0 {
		cfg.HistoryCapacity = v
	}
	if v, err := time.ParseDuration(os.Getenv("CHAT_TYPING_TIMEOUT")); err == nil && v > 0 {
		cfg.TypingTimeout = v
	}
	if v, err := time.ParseDuration(os.Getenv("CHAT_RETENTION_WINDOW")); err == nil && v > 0 {
		cfg.RetentionWindow = v
	}
	if v, err := strconv.Atoi(os.Getenv("CHAT_SEND_QUEUE_SIZE")); err == nil && v > 0 {
		cfg.SendQueueSize = v
	}
	return cfg
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.DefaultRoom == "" {
		c.DefaultRoom = def.DefaultRoom
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = def.HistoryCapacity
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = def.TypingTimeout
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = def.RetentionWindow
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
}
