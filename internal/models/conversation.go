package models

import (
	"time"
)

// Conversation is a two-participant message thread.
type Conversation struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// PairKey is "<low>:<high>" of the participant ids; it keeps one
	// conversation per unordered pair.
	PairKey string `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

type ConversationParticipant struct {
	ConversationID string    `gorm:"type:varchar(36);primaryKey" json:"conversation_id"`
	UserID         uint      `gorm:"primaryKey;index" json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
}

// ParticipantIDs flattens the participant rows.
func (c *Conversation) ParticipantIDs() []uint {
	ids := make([]uint, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// ConversationSummary is the per-participant read state of a conversation,
// denormalized so an inbox can render without loading message history.
type ConversationSummary struct {
	UserID         uint       `gorm:"primaryKey" json:"user_id" msgpack:"user_id"`
	ConversationID string     `gorm:"type:varchar(36);primaryKey" json:"conversation_id" msgpack:"conversation_id"`
	PeerID         uint       `gorm:"not null" json:"peer_id" msgpack:"peer_id"`
	Unread         bool       `gorm:"not null;default:false" json:"unread" msgpack:"unread"`
	LastMessage    string     `gorm:"type:text" json:"last_message" msgpack:"last_message"`
	LastMessageAt  *time.Time `gorm:"index" json:"last_message_at" msgpack:"last_message_at"`
	CreatedAt      time.Time  `json:"created_at" msgpack:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" msgpack:"updated_at"`
}

// SummaryPatch has merge-patch semantics: nil fields are left untouched.
type SummaryPatch struct {
	Unread        *bool      `json:"unread,omitempty"`
	LastMessage   *string    `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p SummaryPatch) Empty() bool {
	return p.Unread == nil && p.LastMessage == nil && p.LastMessageAt == nil
}

// Columns returns the column updates the patch describes.
func (p SummaryPatch) Columns() map[string]interface{} {
	cols := make(map[string]interface{}, 3)
	if p.Unread != nil {
		cols["unread"] = *p.Unread
	}
	if p.LastMessage != nil {
		cols["last_message"] = *p.LastMessage
	}
	if p.LastMessageAt != nil {
		cols["last_message_at"] = p.LastMessageAt.UTC()
	}
	return cols
}

// Apply merges the patch into s.
func (p SummaryPatch) Apply(s *ConversationSummary) {
	if p.Unread != nil {
		s.Unread = *p.Unread
	}
	if p.LastMessage != nil {
		s.LastMessage = *p.LastMessage
	}
	if p.LastMessageAt != nil {
		t := p.LastMessageAt.UTC()
		s.LastMessageAt = &t
	}
}

// InboxEntry is a summary joined with the peer's public profile.
type InboxEntry struct {
	ConversationSummary
	Peer UserResponse `json:"peer"`
}
