package httpx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/RahmatullahZadran/appss/internal/service"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func Error(c *fiber.Ctx, status int, code string, message string) error {
	if message == "" {
		message = "Request failed"
	}
	rid, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(ErrorResponse{Error: message, Code: code, RequestID: rid})
}

func BadRequest(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusBadRequest, code, message)
}

func Unauthorized(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusUnauthorized, code, message)
}

func Forbidden(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusForbidden, code, message)
}

func NotFound(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusNotFound, code, message)
}

func Internal(c *fiber.Ctx, code string) error {
	return Error(c, fiber.StatusInternalServerError, code, "Internal server error")
}

type serviceError struct {
	target  error
	status  int
	code    string
	message string // empty echoes err.Error()
}

// serviceErrors is checked in order; the first errors.Is match wins.
var serviceErrors = []serviceError{
	{service.ErrInvalidInput, fiber.StatusBadRequest, "invalid_input", ""},
	{service.ErrNotFound, fiber.StatusNotFound, "not_found", "Not found"},
	{service.ErrNotParticipant, fiber.StatusForbidden, "not_participant", "Not a participant of this conversation"},
	{service.ErrDataIntegrity, fiber.StatusUnprocessableEntity, "data_integrity", "Conversation is not a valid pair"},
	{service.ErrEmailTaken, fiber.StatusConflict, "email_taken", "Email already registered"},
	{service.ErrInvalidCredentials, fiber.StatusUnauthorized, "invalid_credentials", "Invalid email or password"},
	{service.ErrStorageNotConfigured, fiber.StatusServiceUnavailable, "storage_not_configured", "Storage not configured"},
}

// FromService maps a service error onto a response. Unknown errors become a
// 500 with fallbackCode.
func FromService(c *fiber.Ctx, err error, fallbackCode string) error {
	for _, se := range serviceErrors {
		if !errors.Is(err, se.target) {
			continue
		}
		msg := se.message
		if msg == "" {
			msg = err.Error()
		}
		return Error(c, se.status, se.code, msg)
	}
	return Internal(c, fallbackCode)
}

func LocalUint(c *fiber.Ctx, key string) (uint, error) {
	switch v := c.Locals(key).(type) {
	case uint:
		return v, nil
	case nil:
		return 0, fmt.Errorf("missing local %s", key)
	default:
		return 0, fmt.Errorf("invalid local %s: %T", key, v)
	}
}

// NotModified sets etag on the response and reports whether the request's
// If-None-Match already names it. Weak and quoted forms compare equal.
func NotModified(c *fiber.Ctx, etag string) bool {
	c.Set(fiber.HeaderETag, etag)
	want := bareETag(etag)
	for _, candidate := range strings.Split(c.Get(fiber.HeaderIfNoneMatch), ",") {
		if got := bareETag(candidate); got == "*" || (got != "" && got == want) {
			return true
		}
	}
	return false
}

func bareETag(v string) string {
	return strings.Trim(strings.TrimPrefix(strings.TrimSpace(v), "W/"), "\"")
}
