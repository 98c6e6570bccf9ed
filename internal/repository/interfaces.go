package repository

import (
	"github.com/RahmatullahZadran/appss/internal/models"
)

// UserRepositoryInterface defines the contract for user repository operations
type UserRepositoryInterface interface {
	Create(user *models.User) error
	FindByEmail(email string) (*models.User, error)
	FindByID(id uint) (*models.User, error)
	FindByIDs(ids []uint) ([]models.User, error)
	Update(user *models.User) error
	UpdatePushToken(userID uint, token string) error
}

// MessageRepositoryInterface defines the contract for message repository operations
type MessageRepositoryInterface interface {
	Create(message *models.Message) error
	CreateWithSummaries(message *models.Message, recipientID uint) error
	FindByID(id string) (*models.Message, error)
	FindLatest(conversationID string, limit int) ([]models.Message, error)
	FindBefore(conversationID string, cursor models.Cursor, limit int) ([]models.Message, error)
}

// ConversationRepositoryInterface defines the contract for conversation repository operations
type ConversationRepositoryInterface interface {
	Create(conversation *models.Conversation) error
	FindByID(id string) (*models.Conversation, error)
	FindByParticipants(userID1, userID2 uint) (*models.Conversation, error)
	Participants(conversationID string) ([]uint, error)
	IsParticipant(conversationID string, userID uint) (bool, error)
}

// SummaryRepositoryInterface defines the contract for read-state summary operations
type SummaryRepositoryInterface interface {
	Upsert(summary *models.ConversationSummary) error
	ApplyPatch(userID uint, conversationID string, peerID uint, patch models.SummaryPatch) error
	Get(userID uint, conversationID string) (*models.ConversationSummary, error)
	ListForUser(userID uint, limit int) ([]models.ConversationSummary, error)
	CountUnread(userID uint) (int64, error)
}
