package repository

import (
	"fmt"
	"time"

	"github.com/RahmatullahZadran/appss/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// PairKey orders two user ids so that both directions map to the same key.
func PairKey(userID1, userID2 uint) string {
	if userID1 > userID2 {
		userID1, userID2 = userID2, userID1
	}
	return fmt.Sprintf("%d:%d", userID1, userID2)
}

// Create stores conversation together with its participant rows. A missing id
// is filled with a UUID. PairKey is derived from the participants when there
// are exactly two; other shapes get a key unique to the conversation.
func (r *ConversationRepository) Create(conversation *models.Conversation) error {
	if conversation.ID == "" {
		conversation.ID = uuid.NewString()
	}
	if conversation.PairKey == "" {
		if len(conversation.Participants) == 2 {
			conversation.PairKey = PairKey(conversation.Participants[0].UserID, conversation.Participants[1].UserID)
		} else {
			conversation.PairKey = "n:" + conversation.ID
		}
	}
	now := time.Now().UTC()
	for i := range conversation.Participants {
		conversation.Participants[i].ConversationID = conversation.ID
		if conversation.Participants[i].JoinedAt.IsZero() {
			conversation.Participants[i].JoinedAt = now
		}
	}
	return r.db.Create(conversation).Error
}

func (r *ConversationRepository) FindByID(id string) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.Preload("Participants").Where("id = ?", id).First(&conversation).Error
	return &conversation, err
}

func (r *ConversationRepository) FindByParticipants(userID1, userID2 uint) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.Preload("Participants").
		Where("pair_key = ?", PairKey(userID1, userID2)).
		First(&conversation).Error
	return &conversation, err
}

// Participants returns the user ids of a conversation ordered by id. An
// unknown conversation yields gorm.ErrRecordNotFound.
func (r *ConversationRepository) Participants(conversationID string) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ?", conversationID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return ids, nil
}

func (r *ConversationRepository) IsParticipant(conversationID string, userID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	return count > 0, err
}
