package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"coderoom-backend/internal/auth"
)

// AuthHandler issues the durable room identities. There is no user table:
// a guest identity is a minted uuid, a Google identity is the verified
// Google subject. The token is the identity.
type AuthHandler struct {
	jwtManager   *auth.JWTManager
	googleAuth   *auth.GoogleAuthenticator
	secureCookie bool
	expiresIn    int64
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(jwtManager *auth.JWTManager, googleAuth *auth.GoogleAuthenticator, secureCookie bool, accessExpiry time.Duration) *AuthHandler {
	return &AuthHandler{
		jwtManager:   jwtManager,
		googleAuth:   googleAuth,
		secureCookie: secureCookie,
		expiresIn:    int64(accessExpiry.Seconds()),
	}
}

// GuestLoginRequest guest identity request
type GuestLoginRequest struct {
	DisplayName string `json:"displayName"`
}

// GoogleLoginRequest Google sign-in request
type GoogleLoginRequest struct {
	IDToken string `json:"id_token"`
}

// AuthResponse token reply
type AuthResponse struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// GuestLogin mints a fresh durable userId for an anonymous participant.
// Clients persist the token locally so the identity survives reloads.
func (h *AuthHandler) GuestLogin(c *fiber.Ctx) error {
	var req GuestLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.DisplayName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "displayName is required",
		})
	}
	if len(req.DisplayName) > 50 {
		req.DisplayName = req.DisplayName[:50]
	}

	userID := uuid.New().String()
	return h.respondWithTokens(c, userID, req.DisplayName)
}

// GoogleLogin verifies a Google ID token and issues room tokens for the
// Google subject, so the same account always maps to the same userId.
func (h *AuthHandler) GoogleLogin(c *fiber.Ctx) error {
	if !h.googleAuth.Enabled() {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "google sign-in is not configured",
		})
	}

	var req GoogleLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.IDToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id_token is required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	googleUser, err := h.googleAuth.VerifyIDToken(ctx, req.IDToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid google token",
		})
	}

	userID := "google:" + googleUser.ID
	displayName := googleUser.Name
	if displayName == "" {
		displayName = googleUser.Email
	}

	return h.respondWithTokens(c, userID, displayName)
}

// RefreshToken exchanges the refresh cookie for a new access token.
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	refreshToken := c.Cookies("refresh_token")
	if refreshToken == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "refresh token not found",
		})
	}

	userID, err := h.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		h.clearRefreshCookie(c)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid or expired refresh token",
		})
	}

	displayName := c.Query("displayName")
	accessToken, err := h.jwtManager.GenerateAccessToken(userID, displayName)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate token",
		})
	}

	return c.JSON(fiber.Map{
		"access_token": accessToken,
		"expires_in":   h.expiresIn,
	})
}

// Logout clears the refresh cookie.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	h.clearRefreshCookie(c)
	return c.JSON(fiber.Map{
		"message": "logged out successfully",
	})
}

// GetMe returns the identity carried by the current token.
func (h *AuthHandler) GetMe(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	return c.JSON(fiber.Map{
		"userId":      claims.UserID,
		"displayName": claims.DisplayName,
	})
}

func (h *AuthHandler) respondWithTokens(c *fiber.Ctx, userID, displayName string) error {
	accessToken, err := h.jwtManager.GenerateAccessToken(userID, displayName)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate token",
		})
	}

	refreshToken, err := h.jwtManager.GenerateRefreshToken(userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate refresh token",
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     "refresh_token",
		Value:    refreshToken,
		Path:     "/",
		MaxAge:   7 * 24 * 60 * 60,
		Secure:   h.secureCookie,
		HTTPOnly: true,
		SameSite: "Lax",
	})

	return c.JSON(AuthResponse{
		UserID:      userID,
		DisplayName: displayName,
		AccessToken: accessToken,
		ExpiresIn:   h.expiresIn,
	})
}

func (h *AuthHandler) clearRefreshCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     "refresh_token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   h.secureCookie,
		HTTPOnly: true,
	})
}
