package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/RahmatullahZadran/appss/internal/feed"
	"github.com/RahmatullahZadran/appss/internal/models"
)

var (
	_ feed.MessageStore = (*Client)(nil)
	_ feed.AtomicSender = (*Client)(nil)
)

// Page is one page of messages, newest first.
type Page struct {
	Messages   []models.Message `json:"messages"`
	Count      int              `json:"count"`
	NextCursor *models.Cursor   `json:"next_cursor,omitempty"`
}

// Inbox mirrors the server's inbox listing.
type Inbox struct {
	Conversations []models.InboxEntry `json:"conversations"`
	UnreadCount   int64               `json:"unread_count"`
}

type writeBody struct {
	Text        string     `json:"text"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	RecipientID uint       `json:"recipient_id,omitempty"`
}

func conversationPath(conversationID string, rest string) string {
	return "/api/conversations/" + url.PathEscape(conversationID) + rest
}

// OpenConversation returns the conversation with peerID, creating it if
// needed.
func (c *Client) OpenConversation(ctx context.Context, peerID uint) (*models.Conversation, error) {
	var out struct {
		Conversation models.Conversation `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/conversations", nil, map[string]uint{"peer_id": peerID}, &out); err != nil {
		return nil, errors.Wrap(err, "open conversation")
	}
	return &out.Conversation, nil
}

func (c *Client) Conversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var out struct {
		Conversation models.Conversation `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationID, ""), nil, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "get conversation %s", conversationID)
	}
	return &out.Conversation, nil
}

func (c *Client) Inbox(ctx context.Context) (*Inbox, error) {
	var out Inbox
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, nil, &out); err != nil {
		return nil, errors.Wrap(err, "fetch inbox")
	}
	return &out, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return errors.Wrap(c.do(ctx, http.MethodPost, conversationPath(conversationID, "/read"), nil, nil, nil), "mark read")
}

// Messages fetches a page of messages. A nil cursor returns the newest page.
func (c *Client) Messages(ctx context.Context, conversationID string, cursor *models.Cursor, limit int) (*Page, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if cursor != nil {
		query.Set("before_id", cursor.MessageID)
		query.Set("before_ts", cursor.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	var page Page
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationID, "/messages"), query, nil, &page); err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	return &page, nil
}

// FetchOlder implements feed.MessageStore.
func (c *Client) FetchOlder(ctx context.Context, conversationID string, cursor models.Cursor, limit int) ([]models.Message, error) {
	page, err := c.Messages(ctx, conversationID, &cursor, limit)
	if err != nil {
		return nil, err
	}
	return page.Messages, nil
}

// Insert implements feed.MessageStore. msg takes the stored id and timestamp.
func (c *Client) Insert(ctx context.Context, msg *models.Message) error {
	return c.write(ctx, "/messages", msg, 0)
}

// SendAtomic implements feed.AtomicSender.
func (c *Client) SendAtomic(ctx context.Context, msg *models.Message, recipientID uint) error {
	return c.write(ctx, "/send", msg, recipientID)
}

func (c *Client) write(ctx context.Context, suffix string, msg *models.Message, recipientID uint) error {
	body := writeBody{Text: msg.Text, RecipientID: recipientID}
	if !msg.CreatedAt.IsZero() {
		at := msg.CreatedAt
		body.CreatedAt = &at
	}
	var stored models.Message
	if err := c.do(ctx, http.MethodPost, conversationPath(msg.ConversationID, suffix), nil, body, &stored); err != nil {
		return errors.Wrap(err, "store message")
	}
	msg.ID = stored.ID
	msg.SenderID = stored.SenderID
	msg.Text = stored.Text
	msg.CreatedAt = stored.CreatedAt
	return nil
}

// UpdateSummary implements feed.MessageStore.
func (c *Client) UpdateSummary(ctx context.Context, userID uint, conversationID string, patch models.SummaryPatch) error {
	path := conversationPath(conversationID, "/summaries/"+strconv.FormatUint(uint64(userID), 10))
	return errors.Wrap(c.do(ctx, http.MethodPatch, path, nil, patch, nil), "update summary")
}

// Participants implements feed.MessageStore.
func (c *Client) Participants(ctx context.Context, conversationID string) ([]uint, error) {
	conv, err := c.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conv.ParticipantIDs(), nil
}
