package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/RahmatullahZadran/appss/internal/httpx"
	"github.com/RahmatullahZadran/appss/internal/middleware"
	"github.com/RahmatullahZadran/appss/internal/service"
)

type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Register creates an account and starts a session for it.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var input service.RegisterInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}
	if strings.TrimSpace(input.Email) == "" || input.Password == "" || strings.TrimSpace(input.FirstName) == "" {
		return httpx.BadRequest(c, "missing_fields", "Email, first name, and password are required")
	}

	session, err := h.authService.Register(input)
	if err != nil {
		return httpx.FromService(c, err, "register_failed")
	}
	setSessionCookie(c, session.Token, session.ExpiresAt)
	return c.Status(fiber.StatusCreated).JSON(session)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var input service.LoginInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}
	if strings.TrimSpace(input.Email) == "" || input.Password == "" {
		return httpx.BadRequest(c, "missing_fields", "Email and password are required")
	}

	session, err := h.authService.Login(input)
	if err != nil {
		return httpx.FromService(c, err, "login_failed")
	}
	setSessionCookie(c, session.Token, session.ExpiresAt)
	return c.JSON(session)
}

// Logout clears the session cookie. Bearer tokens stay valid until they
// expire.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.ClearCookie(middleware.AccessCookie)
	return c.SendStatus(fiber.StatusNoContent)
}

func setSessionCookie(c *fiber.Ctx, token string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.AccessCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   c.Protocol() == "https",
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
