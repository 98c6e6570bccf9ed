package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/RahmatullahZadran/appss/internal/httpx"
	"github.com/RahmatullahZadran/appss/internal/service"
)

type UserHandler struct {
	userService *service.UserService
}

func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// UpdateProfile changes the caller's own names.
func (h *UserHandler) UpdateProfile(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	var input service.UpdateProfileInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	user, err := h.userService.UpdateProfile(userID, input)
	if err != nil {
		return httpx.FromService(c, err, "update_profile_failed")
	}

	return c.JSON(fiber.Map{
		"user": user.ToSelfResponse(),
	})
}

// SetPushToken registers the device token used for message notifications.
func (h *UserHandler) SetPushToken(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	var input struct {
		Token string `json:"token"`
	}
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	if err := h.userService.SetPushToken(userID, input.Token); err != nil {
		return httpx.FromService(c, err, "set_push_token_failed")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetCurrentUser answers 304 while the profile is unchanged.
func (h *UserHandler) GetCurrentUser(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	user, err := h.userService.GetUserByID(userID)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	c.Set("Cache-Control", "private, max-age=0, must-revalidate")
	if httpx.NotModified(c, fmt.Sprintf("W/\"u-%d-%d\"", user.ID, user.UpdatedAt.UTC().UnixNano())) {
		return c.SendStatus(fiber.StatusNotModified)
	}

	return c.JSON(fiber.Map{
		"user": user.ToSelfResponse(),
	})
}

// GetUser returns a user's public profile.
// Route: GET /users/:id
func (h *UserHandler) GetUser(c *fiber.Ctx) error {
	id64, err := strconv.ParseUint(strings.TrimSpace(c.Params("id")), 10, 64)
	if err != nil || id64 == 0 {
		return httpx.BadRequest(c, "invalid_user_id", "Invalid user ID")
	}

	profile, err := h.userService.GetProfile(uint(id64))
	if err != nil {
		return httpx.FromService(c, err, "get_user_failed")
	}

	return c.JSON(fiber.Map{
		"user": profile,
	})
}
