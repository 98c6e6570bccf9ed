package ws

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/RahmatullahZadran/appss/internal/livequery"
	"github.com/RahmatullahZadran/appss/internal/service"
)

// MessageContext is what a client frame may touch while it is processed.
type MessageContext struct {
	// Ctx ends when the connection closes.
	Ctx            context.Context
	UserID         uint
	Client         *ClientConnection
	Hub            *Hub
	Broker         *livequery.Broker
	MessageService *service.MessageService
	DefaultLimit   int
	MaxLimit       int
	Log            zerolog.Logger
}

// Message is a decoded client frame.
type Message interface {
	GetType() string
	Process(ctx *MessageContext) error
}

// SerializedMessage is the {type, payload} envelope of every frame.
type SerializedMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Frame is a server-to-client frame.
type Frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ErrorPayload is the payload of an "error" frame.
type ErrorPayload struct {
	Error          string `json:"error"`
	Code           string `json:"code"`
	Details        string `json:"details,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// SendError queues an error frame for client.
func SendError(hub *Hub, client *ClientConnection, payload ErrorPayload) error {
	return hub.Send(client, Frame{Type: "error", Payload: payload})
}
