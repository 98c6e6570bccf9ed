package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/RahmatullahZadran/appss/internal/handlers/ws"
	"github.com/RahmatullahZadran/appss/internal/livequery"
	"github.com/RahmatullahZadran/appss/internal/service"
)

type WebSocketHandler struct {
	messageService *service.MessageService
	broker         *livequery.Broker
	hub            *ws.Hub
	defaultLimit   int
	maxLimit       int
	log            zerolog.Logger
}

func NewWebSocketHandler(messageService *service.MessageService, broker *livequery.Broker, hub *ws.Hub, defaultLimit, maxLimit int, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		messageService: messageService,
		broker:         broker,
		hub:            hub,
		defaultLimit:   defaultLimit,
		maxLimit:       maxLimit,
		log:            log.With().Str("component", "websocket").Logger(),
	}
}

// GetHub returns the hub instance
func (h *WebSocketHandler) GetHub() *ws.Hub {
	return h.hub
}

func (h *WebSocketHandler) HandleWebSocket(c *websocket.Conn) {
	userID, ok := c.Locals("userID").(uint)
	if !ok {
		_ = c.Close()
		return
	}

	// Check if client supports gzip compression (via query param or header)
	supportsGzip := c.Query("gzip") == "1" || c.Headers("X-Supports-Gzip") == "1"

	connCtx, cancel := context.WithCancel(context.Background())
	client := h.hub.Register(userID, c, supportsGzip)
	defer func() {
		cancel()
		h.hub.Unregister(client)
	}()

	ctx := &ws.MessageContext{
		Ctx:            connCtx,
		UserID:         userID,
		Client:         client,
		Hub:            h.hub,
		Broker:         h.broker,
		MessageService: h.messageService,
		DefaultLimit:   h.defaultLimit,
		MaxLimit:       h.maxLimit,
		Log:            h.log,
	}

	for {
		messageType, messageBytes, err := c.ReadMessage()
		if err != nil {
			h.log.Debug().Err(err).Uint("user_id", userID).Msg("read failed")
			break
		}

		// Binary frames are gzip compressed
		if messageType == websocket.BinaryMessage {
			decompressed, err := ws.DecompressMessage(messageBytes)
			if err != nil {
				_ = ws.SendError(h.hub, client, ws.ErrorPayload{Error: "Failed to decompress message", Code: "decompression_failed", Details: err.Error()})
				continue
			}
			messageBytes = decompressed
		}

		msg, err := ws.Deserialize(messageBytes)
		if err != nil {
			_ = ws.SendError(h.hub, client, ws.ErrorPayload{Error: "Invalid message format", Code: "invalid_message", Details: err.Error()})
			continue
		}

		if err := msg.Process(ctx); err != nil {
			h.log.Debug().Err(err).Str("type", msg.GetType()).Uint("user_id", userID).Msg("processing failed")
			_ = ws.SendError(h.hub, client, ws.ErrorPayload{Error: "Failed to process message", Code: ws.ErrorCode(err), Details: err.Error(), ConversationID: conversationOf(msg)})
		}
	}
}

func conversationOf(msg ws.Message) string {
	switch m := msg.(type) {
	case *ws.MessageSubscribe:
		return m.ConversationID
	case *ws.MessageUnsubscribe:
		return m.ConversationID
	}
	return ""
}
