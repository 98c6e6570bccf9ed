package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/RahmatullahZadran/appss/internal/httpx"
	"github.com/RahmatullahZadran/appss/internal/service"
)

type ConversationHandler struct {
	conversationService *service.ConversationService
}

func NewConversationHandler(conversationService *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

// Open returns the conversation with a peer, creating it on first use.
func (h *ConversationHandler) Open(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	var input struct {
		PeerID uint `json:"peer_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}
	if input.PeerID == 0 {
		return httpx.BadRequest(c, "missing_peer", "peer_id is required")
	}

	conv, created, err := h.conversationService.Open(userID, input.PeerID)
	if err != nil {
		return httpx.FromService(c, err, "open_conversation_failed")
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"conversation": conv,
	})
}

// Inbox lists the caller's conversations with the unread total.
func (h *ConversationHandler) Inbox(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	entries, err := h.conversationService.Inbox(userID)
	if err != nil {
		return httpx.Internal(c, "fetch_inbox_failed")
	}
	unread, err := h.conversationService.UnreadCount(userID)
	if err != nil {
		return httpx.Internal(c, "fetch_inbox_failed")
	}

	return c.JSON(fiber.Map{
		"conversations": entries,
		"unread_count":  unread,
	})
}

func (h *ConversationHandler) Get(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	conv, err := h.conversationService.Get(userID, c.Params("id"))
	if err != nil {
		return httpx.FromService(c, err, "get_conversation_failed")
	}

	return c.JSON(fiber.Map{
		"conversation": conv,
	})
}

// MarkRead clears the caller's unread flag.
func (h *ConversationHandler) MarkRead(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	if err := h.conversationService.MarkRead(userID, c.Params("id")); err != nil {
		return httpx.FromService(c, err, "mark_read_failed")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
