package repository

import (
	"time"

	"github.com/RahmatullahZadran/appss/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SummaryRepository struct {
	db *gorm.DB
}

func NewSummaryRepository(db *gorm.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Upsert inserts summary unless a row for the same user and conversation
// exists already; existing rows are left untouched.
func (r *SummaryRepository) Upsert(summary *models.ConversationSummary) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "conversation_id"}},
		DoNothing: true,
	}).Create(summary).Error
}

// ApplyPatch merge-patches the summary of userID. Only the fields set in
// patch are written; a missing row is created with peerID as its peer.
func (r *SummaryRepository) ApplyPatch(userID uint, conversationID string, peerID uint, patch models.SummaryPatch) error {
	if patch.Empty() {
		return nil
	}

	row := models.ConversationSummary{
		UserID:         userID,
		ConversationID: conversationID,
		PeerID:         peerID,
	}
	patch.Apply(&row)

	cols := patch.Columns()
	cols["updated_at"] = time.Now().UTC()

	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "conversation_id"}},
		DoUpdates: clause.Assignments(cols),
	}).Create(&row).Error
}

func (r *SummaryRepository) Get(userID uint, conversationID string) (*models.ConversationSummary, error) {
	var summary models.ConversationSummary
	err := r.db.Where("user_id = ? AND conversation_id = ?", userID, conversationID).First(&summary).Error
	return &summary, err
}

// ListForUser returns the summaries of userID, most recent activity first.
// Conversations without messages come last.
func (r *SummaryRepository) ListForUser(userID uint, limit int) ([]models.ConversationSummary, error) {
	var summaries []models.ConversationSummary
	q := r.db.Where("user_id = ?", userID).
		Order("CASE WHEN last_message_at IS NULL THEN 1 ELSE 0 END").
		Order("last_message_at DESC").
		Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&summaries).Error
	return summaries, err
}

func (r *SummaryRepository) CountUnread(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.ConversationSummary{}).
		Where("user_id = ? AND unread = ?", userID, true).
		Count(&count).Error
	return count, err
}
