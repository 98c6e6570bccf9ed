package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RahmatullahZadran/appss/internal/models"
	"github.com/RahmatullahZadran/appss/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var userSeq atomic.Int64

// TestHelper provides utility functions for tests
type TestHelper struct {
	t  *testing.T
	DB *gorm.DB
}

// NewTestHelper opens a private in-memory SQLite database with the feed
// schema migrated.
func NewTestHelper(t *testing.T) *TestHelper {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &TestHelper{t: t, DB: db}
}

// CreateTestUser inserts a user with default values
func (h *TestHelper) CreateTestUser(email, firstName string) *models.User {
	h.t.Helper()
	if email == "" {
		email = fmt.Sprintf("user%d@example.com", userSeq.Add(1))
	}
	if firstName == "" {
		firstName = "Test"
	}
	user := &models.User{
		Email:        email,
		PasswordHash: "hashed_password_123",
		FirstName:    firstName,
		LastName:     "User",
		Role:         models.RoleStudent,
	}
	if err := h.DB.Create(user).Error; err != nil {
		h.t.Fatalf("create user: %v", err)
	}
	return user
}

// CreateTestConversation inserts a conversation between the given users
// together with an empty summary for each of them.
func (h *TestHelper) CreateTestConversation(userIDs ...uint) *models.Conversation {
	h.t.Helper()
	conv := &models.Conversation{}
	for _, id := range userIDs {
		conv.Participants = append(conv.Participants, models.ConversationParticipant{UserID: id})
	}
	if err := repository.NewConversationRepository(h.DB).Create(conv); err != nil {
		h.t.Fatalf("create conversation: %v", err)
	}
	summaries := repository.NewSummaryRepository(h.DB)
	for _, id := range userIDs {
		var peer uint
		for _, other := range userIDs {
			if other != id {
				peer = other
			}
		}
		if err := summaries.Upsert(&models.ConversationSummary{UserID: id, ConversationID: conv.ID, PeerID: peer}); err != nil {
			h.t.Fatalf("create summary: %v", err)
		}
	}
	return conv
}

// CreateTestMessages inserts count messages one second apart starting at
// start, oldest first, and returns them in that order.
func (h *TestHelper) CreateTestMessages(conversationID string, senderID uint, start time.Time, count int) []models.Message {
	h.t.Helper()
	repo := repository.NewMessageRepository(h.DB)
	out := make([]models.Message, 0, count)
	for i := 0; i < count; i++ {
		msg := &models.Message{
			ConversationID: conversationID,
			SenderID:       senderID,
			Text:           fmt.Sprintf("message %d", i),
			CreatedAt:      start.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Create(msg); err != nil {
			h.t.Fatalf("create message: %v", err)
		}
		out = append(out, *msg)
	}
	return out
}

// SetupTestEnv sets up required environment variables for testing
func (h *TestHelper) SetupTestEnv() {
	h.t.Setenv("JWT_SECRET", "test-secret-key-for-testing-only")
	h.t.Setenv("ENV", "test")
}

// GetRecordNotFoundError returns gorm.ErrRecordNotFound
func GetRecordNotFoundError() error {
	return gorm.ErrRecordNotFound
}
