package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
	"go.uber.org/zap"

	"github.com/pelusa-v/socket-chat/internal/chat"
	"github.com/pelusa-v/socket-chat/internal/handlers"
	"github.com/pelusa-v/socket-chat/internal/logger"
)

func main() {
	log := logger.New()
	defer func() { _ = log.Sync() }()

	cfg := chat.LoadConfig()
	manager := chat.NewManager(cfg, log, nil)
	manager.Start()
	defer manager.Stop()

	engine := html.New("./views", ".html")
	app := fiber.New(fiber.Config{Views: engine})

	h := handlers.New(manager)

	app.Get("/", h.IndexHandler)
	app.Get("/ws", websocket.New(h.WebSocketHandler))

	app.Get("/api/messages", h.MessagesHandler)   // ?roomId=&limit=
	app.Post("/api/messages", h.PostMessageHandler)
	app.Get("/api/rooms", h.RoomsHandler)
	app.Post("/api/rooms", h.CreateRoomHandler)
	app.Delete("/api/rooms/:room", h.DeleteRoomHandler)
	app.Get("/api/rooms/:room/users", h.RoomUsersHandler)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info("shutting down")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	log.Info("chat server listening", zap.String("addr", cfg.Addr))
	if err := app.Listen(cfg.Addr); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
