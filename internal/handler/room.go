package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"coderoom-backend/internal/cache"
	"coderoom-backend/internal/model"
	"coderoom-backend/internal/session"
)

// RoomHandler serves room metadata over REST. The live protocol runs over
// the websocket; these endpoints exist for lobby pages and room creation.
type RoomHandler struct {
	store *session.Store
	cache *cache.RedisClient // nil when Redis is not configured
}

// NewRoomHandler creates a RoomHandler.
func NewRoomHandler(store *session.Store, cache *cache.RedisClient) *RoomHandler {
	return &RoomHandler{
		store: store,
		cache: cache,
	}
}

// CreateRoom mints a room id. The room itself is created lazily on the
// first websocket join, so an unused id costs nothing.
func (h *RoomHandler) CreateRoom(c *fiber.Ctx) error {
	roomID := uuid.New().String()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"sessionId": roomID,
	})
}

// GetRoom returns a room's current state for a pre-join preview.
func (h *RoomHandler) GetRoom(c *fiber.Ctx) error {
	roomID := c.Params("id")

	s, ok := h.store.Get(roomID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "session not found",
		})
	}

	return c.JSON(fiber.Map{
		"sessionId":   roomID,
		"language":    s.Language(),
		"filename":    s.Filename(),
		"activeUsers": s.ActiveCount(),
		"users":       s.Participants(),
	})
}

// GetRecentExecutions returns the cached run history for a room.
func (h *RoomHandler) GetRecentExecutions(c *fiber.Ctx) error {
	roomID := c.Params("id")

	if _, ok := h.store.Get(roomID); !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "session not found",
		})
	}

	if h.cache == nil {
		return c.JSON(fiber.Map{
			"executions": []model.ExecutionResult{},
			"count":      0,
		})
	}

	count := int64(c.QueryInt("count", 20))
	if count < 1 || count > 50 {
		count = 20
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	results, err := h.cache.GetRecentExecutions(ctx, roomID, count)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load execution history",
		})
	}

	return c.JSON(fiber.Map{
		"executions": results,
		"count":      len(results),
	})
}

// ListLanguages returns the execution language catalog.
func (h *RoomHandler) ListLanguages(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"languages": model.Languages(),
		"default":   model.DefaultLanguage(),
	})
}
