package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/RahmatullahZadran/appss/internal/httpx"
	"github.com/RahmatullahZadran/appss/internal/models"
	"github.com/RahmatullahZadran/appss/internal/service"
)

type MessageHandler struct {
	messageService *service.MessageService
	pageSize       int
}

func NewMessageHandler(messageService *service.MessageService, pageSize int) *MessageHandler {
	if pageSize <= 0 {
		pageSize = service.DefaultPageSize
	}
	return &MessageHandler{messageService: messageService, pageSize: pageSize}
}

// MessagePage is one page of messages, newest first. NextCursor is set when
// older messages may exist.
type MessagePage struct {
	Messages   []models.Message `json:"messages"`
	Count      int              `json:"count"`
	NextCursor *models.Cursor   `json:"next_cursor,omitempty"`
}

// ListMessages returns the newest page, or the page older than
// before_id/before_ts when both are given.
func (h *MessageHandler) ListMessages(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	conversationID := c.Params("id")

	limit := h.pageSize
	if limitStr := c.Query("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			return httpx.BadRequest(c, "invalid_limit", "Invalid limit")
		}
		limit = l
	}
	if limit > service.MaxPageSize {
		limit = service.MaxPageSize
	}

	beforeID, beforeTS := c.Query("before_id"), c.Query("before_ts")
	var messages []models.Message
	switch {
	case beforeID == "" && beforeTS == "":
		messages, err = h.messageService.Latest(userID, conversationID, limit)
	case beforeID == "" || beforeTS == "":
		return httpx.BadRequest(c, "invalid_cursor", "before_id and before_ts must be given together")
	default:
		ts, parseErr := time.Parse(time.RFC3339Nano, beforeTS)
		if parseErr != nil {
			return httpx.BadRequest(c, "invalid_cursor", "before_ts must be RFC 3339")
		}
		messages, err = h.messageService.Before(userID, conversationID, models.Cursor{MessageID: beforeID, CreatedAt: ts}, limit)
	}
	if err != nil {
		return httpx.FromService(c, err, "fetch_messages_failed")
	}

	if messages == nil {
		messages = []models.Message{}
	}
	page := MessagePage{Messages: messages, Count: len(messages)}
	if len(messages) == limit {
		// Messages are newest-first; the last one is the oldest of the page.
		cursor := models.CursorOf(messages[len(messages)-1])
		page.NextCursor = &cursor
	}
	return c.JSON(page)
}

// AppendMessage stores a message without touching read state.
func (h *MessageHandler) AppendMessage(c *fiber.Ctx) error {
	return h.write(c, h.messageService.Append, "append_message_failed")
}

// SendMessage stores a message and both participants' read state atomically.
func (h *MessageHandler) SendMessage(c *fiber.Ctx) error {
	return h.write(c, h.messageService.SendAtomic, "send_message_failed")
}

type writeFunc func(ctx context.Context, senderID uint, conversationID string, input service.SendMessageInput) (*models.Message, error)

func (h *MessageHandler) write(c *fiber.Ctx, fn writeFunc, failCode string) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	var input service.SendMessageInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	message, err := fn(c.UserContext(), userID, c.Params("id"), input)
	if err != nil {
		return httpx.FromService(c, err, failCode)
	}
	return c.Status(fiber.StatusCreated).JSON(message)
}

// PatchSummary merge-patches the read state a participant holds.
// Route: PATCH /conversations/:id/summaries/:user_id
func (h *MessageHandler) PatchSummary(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	target, err := strconv.ParseUint(c.Params("user_id"), 10, 64)
	if err != nil || target == 0 {
		return httpx.BadRequest(c, "invalid_user_id", "Invalid user ID")
	}

	var patch models.SummaryPatch
	if err := c.BodyParser(&patch); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	if err := h.messageService.PatchSummary(userID, c.Params("id"), uint(target), patch); err != nil {
		return httpx.FromService(c, err, "patch_summary_failed")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
