package models

import (
	"time"
)

// Message is a single chat line inside a conversation. Messages are immutable
// once stored; ID is assigned by the backend and sorts in creation order.
type Message struct {
	ID             string    `gorm:"type:varchar(26);primaryKey" json:"id" msgpack:"id"`
	ConversationID string    `gorm:"type:varchar(36);not null;index:idx_messages_conv_created,priority:1" json:"conversation_id" msgpack:"conversation_id"`
	SenderID       uint      `gorm:"not null;index" json:"sender_id" msgpack:"sender_id"`
	Text           string    `gorm:"type:text;not null" json:"text" msgpack:"text"`
	CreatedAt      time.Time `gorm:"not null;index:idx_messages_conv_created,priority:2" json:"created_at" msgpack:"created_at"`
}

// Cursor points at the oldest message currently held by a reader.
// Store ordering is (CreatedAt, MessageID).
type Cursor struct {
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CursorOf returns the cursor referencing m.
func CursorOf(m Message) Cursor {
	return Cursor{MessageID: m.ID, CreatedAt: m.CreatedAt}
}

// After reports whether the cursor sorts strictly after m, i.e. whether m
// would be returned by a page request for messages older than c.
func (c Cursor) After(m Message) bool {
	if m.CreatedAt.Equal(c.CreatedAt) {
		return m.ID < c.MessageID
	}
	return m.CreatedAt.Before(c.CreatedAt)
}

// OlderThan reports whether a sorts strictly before b in store order.
func OlderThan(a, b Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// NormalizeTimestamp maps a client clock reading onto the precision the
// store keeps, so a message read back compares equal to the one written.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
