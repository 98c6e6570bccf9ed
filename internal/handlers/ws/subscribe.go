package ws

import (
	"errors"

	"github.com/RahmatullahZadran/appss/internal/livequery"
	"github.com/RahmatullahZadran/appss/internal/models"
	"github.com/RahmatullahZadran/appss/internal/service"
)

const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgSnapshot    = "snapshot"
)

var errMissingConversation = errors.New("conversation_id is required")

// MessageSubscribe opens a live query on the newest Limit messages of a
// conversation. A second subscribe on the same conversation replaces the
// first.
type MessageSubscribe struct {
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit"`
}

// SnapshotPayload carries the current newest-first window of a conversation.
type SnapshotPayload struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
}

func (msg *MessageSubscribe) GetType() string {
	return MsgSubscribe
}

func (msg *MessageSubscribe) Process(ctx *MessageContext) error {
	if msg.ConversationID == "" {
		return errMissingConversation
	}
	limit := msg.Limit
	if limit <= 0 {
		limit = ctx.DefaultLimit
	}
	if ctx.MaxLimit > 0 && limit > ctx.MaxLimit {
		limit = ctx.MaxLimit
	}

	if _, err := ctx.MessageService.Participants(ctx.UserID, msg.ConversationID); err != nil {
		return err
	}

	snapshots, cancel, err := ctx.Broker.Subscribe(ctx.Ctx, msg.ConversationID, limit)
	if err != nil {
		return err
	}
	ctx.Client.Track(msg.ConversationID, cancel)
	go forwardSnapshots(ctx, msg.ConversationID, snapshots)

	ctx.Log.Debug().Uint("user_id", ctx.UserID).Str("conversation_id", msg.ConversationID).Int("limit", limit).Msg("live query opened")
	return nil
}

// forwardSnapshots writes snapshots to the client until the subscription
// channel closes.
func forwardSnapshots(ctx *MessageContext, conversationID string, snapshots <-chan livequery.Snapshot) {
	for snap := range snapshots {
		var err error
		if snap.Err != nil {
			err = SendError(ctx.Hub, ctx.Client, ErrorPayload{
				Error:          "Live query failed",
				Code:           "live_query_failed",
				Details:        snap.Err.Error(),
				ConversationID: conversationID,
			})
		} else {
			messages := snap.Messages
			if messages == nil {
				messages = []models.Message{}
			}
			err = ctx.Hub.Send(ctx.Client, Frame{
				Type:    MsgSnapshot,
				Payload: SnapshotPayload{ConversationID: conversationID, Messages: messages},
			})
		}
		if err != nil {
			ctx.Log.Debug().Err(err).Uint("user_id", ctx.UserID).Msg("snapshot write failed")
			ctx.Client.Untrack(conversationID)
			return
		}
	}
}

// MessageUnsubscribe ends the live query on a conversation.
type MessageUnsubscribe struct {
	ConversationID string `json:"conversation_id"`
}

func (msg *MessageUnsubscribe) GetType() string {
	return MsgUnsubscribe
}

func (msg *MessageUnsubscribe) Process(ctx *MessageContext) error {
	if msg.ConversationID == "" {
		return errMissingConversation
	}
	ctx.Client.Untrack(msg.ConversationID)
	return nil
}

// ErrorCode maps a processing error onto the code sent to the client.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, service.ErrNotFound):
		return "not_found"
	case errors.Is(err, errMissingConversation), errors.Is(err, livequery.ErrInvalidLimit):
		return "invalid_input"
	}
	return "processing_failed"
}
