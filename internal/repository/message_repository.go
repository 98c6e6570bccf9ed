package repository

import (
	"time"

	"github.com/RahmatullahZadran/appss/internal/models"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create stores message, assigning a ULID when it has no id yet.
func (r *MessageRepository) Create(message *models.Message) error {
	prepareMessage(message)
	return r.db.Create(message).Error
}

// CreateWithSummaries stores message and updates the read state of both
// participants in one transaction: the recipient gets unread=true, the sender
// unread=false, and both get the message as their last message.
func (r *MessageRepository) CreateWithSummaries(message *models.Message, recipientID uint) error {
	prepareMessage(message)
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		summaries := NewSummaryRepository(tx)
		at := message.CreatedAt
		unread, read := true, false
		if err := summaries.ApplyPatch(recipientID, message.ConversationID, message.SenderID, models.SummaryPatch{
			Unread:        &unread,
			LastMessage:   &message.Text,
			LastMessageAt: &at,
		}); err != nil {
			return err
		}
		return summaries.ApplyPatch(message.SenderID, message.ConversationID, recipientID, models.SummaryPatch{
			Unread:        &read,
			LastMessage:   &message.Text,
			LastMessageAt: &at,
		})
	})
}

func (r *MessageRepository) FindByID(id string) (*models.Message, error) {
	var message models.Message
	err := r.db.Where("id = ?", id).First(&message).Error
	return &message, err
}

// FindLatest returns the newest limit messages of a conversation, newest first.
func (r *MessageRepository) FindLatest(conversationID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// FindBefore returns up to limit messages strictly older than cursor in
// (created_at, id) order, newest first.
func (r *MessageRepository) FindBefore(conversationID string, cursor models.Cursor, limit int) ([]models.Message, error) {
	var messages []models.Message
	at := cursor.CreatedAt.UTC()
	err := r.db.Where("conversation_id = ?", conversationID).
		Where("(created_at < ? OR (created_at = ? AND id < ?))", at, at, cursor.MessageID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func prepareMessage(message *models.Message) {
	if message.ID == "" {
		message.ID = ulid.Make().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	message.CreatedAt = models.NormalizeTimestamp(message.CreatedAt)
}
