package transport

import (
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/observability"
	"chat-relay/runtime"
)

const maxHistoryLimit = 100

// NewRouter wires the websocket endpoint and the REST read API onto one
// fiber app. The REST side never writes relay state; it only reads presence,
// counters, and history.
func NewRouter(log *slog.Logger, relay *runtime.Relay, history contract.IHistoryGateway,
	stats *observability.Stats, connectionBufferSize int) *fiber.App {

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler := NewHandler(relay, log, connectionBufferSize)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(handler.HandleWebSocket))

	app.Get("/health", func(c *fiber.Ctx) error {
		snapshot := stats.Snapshot()
		return c.JSON(fiber.Map{
			"status":         "healthy",
			"uptime_seconds": snapshot.UptimeSeconds,
			"connectedUsers": relay.SessionCount(),
		})
	})

	app.Get("/api/stats", func(c *fiber.Ctx) error {
		return c.JSON(stats.Snapshot())
	})

	app.Get("/api/users", func(c *fiber.Ctx) error {
		users := relay.OnlineUsers()
		return c.JSON(fiber.Map{
			"totalUsers": len(users),
			"onlineUsers": lo.Map(users, func(u event.User, _ int) userBody {
				return toUserBody(u)
			}),
		})
	})

	app.Get("/api/chat/messages", func(c *fiber.Ctx) error {
		roomID := c.Query("room", runtime.DefaultRoom)
		limit := clampLimit(c.QueryInt("limit", 50))

		messages, err := history.Query(roomID, limit)
		if err != nil {
			log.Error("Failed to retrieve chat messages", "room_id", roomID, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to retrieve chat messages",
			})
		}
		return c.JSON(fiber.Map{
			"roomId":   roomID,
			"messages": toMessageBodies(messages),
			"count":    len(messages),
		})
	})

	app.Get("/api/chat/users/:userId/messages", func(c *fiber.Ctx) error {
		userID := c.Params("userId")
		limit := clampLimit(c.QueryInt("limit", 50))

		messages, err := history.QueryByAuthor(userID, limit)
		if err != nil {
			log.Error("Failed to retrieve user messages", "user_id", userID, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to retrieve user chat messages",
			})
		}
		return c.JSON(fiber.Map{
			"userId":   userID,
			"messages": toMessageBodies(messages),
			"count":    len(messages),
		})
	})

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Not Found",
		})
	})

	return app
}

func toMessageBodies(messages []domain.ChatMessage) []messageBody {
	return lo.Map(messages, func(m domain.ChatMessage, _ int) messageBody {
		return toMessageBody(m)
	})
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
