package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"coderoom-backend/internal/model"
)

// SnippetHandler persists code saved out of rooms, keyed by the
// authenticated userId.
type SnippetHandler struct {
	db *gorm.DB
}

// NewSnippetHandler creates a SnippetHandler.
func NewSnippetHandler(db *gorm.DB) *SnippetHandler {
	return &SnippetHandler{db: db}
}

// CreateSnippetRequest snippet creation request
type CreateSnippetRequest struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
	Language string `json:"language"`
	Code     string `json:"code"`
}

// CreateSnippet saves a snippet for the current user.
func (h *SnippetHandler) CreateSnippet(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	var req CreateSnippetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Name == "" || req.Code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name and code are required",
		})
	}

	lang, ok := model.LookupLanguage(req.Language)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unsupported language: " + req.Language,
		})
	}
	filename := req.Filename
	if filename == "" {
		filename = lang.DefaultFilename()
	}

	snippet := model.Snippet{
		UserID:   userID,
		Name:     req.Name,
		Filename: filename,
		Language: lang.Engine,
		Code:     req.Code,
	}

	if err := h.db.Create(&snippet).Error; err != nil {
		log.Printf("[Snippet] Create failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to save snippet",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(snippet)
}

// ListSnippets returns the current user's snippets, newest first.
func (h *SnippetHandler) ListSnippets(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	var snippets []model.Snippet
	if err := h.db.Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(100).
		Find(&snippets).Error; err != nil {
		log.Printf("[Snippet] List failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load snippets",
		})
	}

	return c.JSON(fiber.Map{
		"snippets": snippets,
		"count":    len(snippets),
	})
}

// GetSnippet returns one snippet owned by the current user.
func (h *SnippetHandler) GetSnippet(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	snippetID := c.Params("id")

	var snippet model.Snippet
	err := h.db.Where("id = ? AND user_id = ?", snippetID, userID).
		First(&snippet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "snippet not found",
			})
		}
		log.Printf("[Snippet] Get failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load snippet",
		})
	}

	return c.JSON(snippet)
}

// UpdateSnippet overwrites a snippet's contents.
func (h *SnippetHandler) UpdateSnippet(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	snippetID := c.Params("id")

	var req CreateSnippetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	var snippet model.Snippet
	err := h.db.Where("id = ? AND user_id = ?", snippetID, userID).
		First(&snippet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "snippet not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load snippet",
		})
	}

	if req.Name != "" {
		snippet.Name = req.Name
	}
	if req.Filename != "" {
		snippet.Filename = req.Filename
	}
	if req.Language != "" {
		lang, ok := model.LookupLanguage(req.Language)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "unsupported language: " + req.Language,
			})
		}
		snippet.Language = lang.Engine
	}
	if req.Code != "" {
		snippet.Code = req.Code
	}

	if err := h.db.Save(&snippet).Error; err != nil {
		log.Printf("[Snippet] Update failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to update snippet",
		})
	}

	return c.JSON(snippet)
}

// DeleteSnippet removes a snippet owned by the current user.
func (h *SnippetHandler) DeleteSnippet(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	snippetID := c.Params("id")

	result := h.db.Where("id = ? AND user_id = ?", snippetID, userID).
		Delete(&model.Snippet{})
	if result.Error != nil {
		log.Printf("[Snippet] Delete failed for user %s: %v", userID, result.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete snippet",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "snippet not found",
		})
	}

	return c.JSON(fiber.Map{
		"message": "snippet deleted",
	})
}
