package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/RahmatullahZadran/appss/internal/models"
	"github.com/RahmatullahZadran/appss/internal/repository"
	"github.com/RahmatullahZadran/appss/internal/testutil"
)

// MockUserRepository is a mock implementation of UserRepository for testing
type MockUserRepository struct {
	users  map[uint]*models.User
	nextID uint
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{
		users:  make(map[uint]*models.User),
		nextID: 1,
	}
}

func (m *MockUserRepository) Create(user *models.User) error {
	if user.ID == 0 {
		user.ID = m.nextID
		m.nextID++
	}
	m.users[user.ID] = user
	return nil
}

func (m *MockUserRepository) FindByEmail(email string) (*models.User, error) {
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, testutil.GetRecordNotFoundError()
}

func (m *MockUserRepository) FindByID(id uint) (*models.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return nil, testutil.GetRecordNotFoundError()
}

func (m *MockUserRepository) FindByIDs(ids []uint) ([]models.User, error) {
	var out []models.User
	for _, id := range ids {
		if user, ok := m.users[id]; ok {
			out = append(out, *user)
		}
	}
	return out, nil
}

func (m *MockUserRepository) Update(user *models.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *MockUserRepository) UpdatePushToken(userID uint, token string) error {
	user, ok := m.users[userID]
	if !ok {
		return testutil.GetRecordNotFoundError()
	}
	user.PushToken = token
	return nil
}

// MockConversationRepository is a mock implementation of ConversationRepository for testing
type MockConversationRepository struct {
	conversations map[string]*models.Conversation
	nextID        int
}

func NewMockConversationRepository() *MockConversationRepository {
	return &MockConversationRepository{conversations: make(map[string]*models.Conversation)}
}

func (m *MockConversationRepository) add(id string, userIDs ...uint) *models.Conversation {
	conv := &models.Conversation{ID: id}
	for _, uid := range userIDs {
		conv.Participants = append(conv.Participants, models.ConversationParticipant{ConversationID: id, UserID: uid})
	}
	m.conversations[id] = conv
	return conv
}

func (m *MockConversationRepository) Create(conversation *models.Conversation) error {
	if len(conversation.Participants) == 2 {
		key := repository.PairKey(conversation.Participants[0].UserID, conversation.Participants[1].UserID)
		for _, c := range m.conversations {
			if len(c.Participants) == 2 && repository.PairKey(c.Participants[0].UserID, c.Participants[1].UserID) == key {
				return errors.New("duplicate pair")
			}
		}
	}
	if conversation.ID == "" {
		m.nextID++
		conversation.ID = "conv-" + string(rune('a'+m.nextID))
	}
	for i := range conversation.Participants {
		conversation.Participants[i].ConversationID = conversation.ID
	}
	m.conversations[conversation.ID] = conversation
	return nil
}

func (m *MockConversationRepository) FindByID(id string) (*models.Conversation, error) {
	if c, ok := m.conversations[id]; ok {
		return c, nil
	}
	return nil, testutil.GetRecordNotFoundError()
}

func (m *MockConversationRepository) FindByParticipants(userID1, userID2 uint) (*models.Conversation, error) {
	key := repository.PairKey(userID1, userID2)
	for _, c := range m.conversations {
		if len(c.Participants) == 2 && repository.PairKey(c.Participants[0].UserID, c.Participants[1].UserID) == key {
			return c, nil
		}
	}
	return nil, testutil.GetRecordNotFoundError()
}

func (m *MockConversationRepository) Participants(conversationID string) ([]uint, error) {
	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, testutil.GetRecordNotFoundError()
	}
	return c.ParticipantIDs(), nil
}

func (m *MockConversationRepository) IsParticipant(conversationID string, userID uint) (bool, error) {
	ids, err := m.Participants(conversationID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type summaryKey struct {
	user uint
	conv string
}

// MockSummaryRepository is a mock implementation of SummaryRepository for testing
type MockSummaryRepository struct {
	rows    map[summaryKey]*models.ConversationSummary
	patches int
}

func NewMockSummaryRepository() *MockSummaryRepository {
	return &MockSummaryRepository{rows: make(map[summaryKey]*models.ConversationSummary)}
}

func (m *MockSummaryRepository) Upsert(summary *models.ConversationSummary) error {
	k := summaryKey{summary.UserID, summary.ConversationID}
	if _, ok := m.rows[k]; !ok {
		cp := *summary
		m.rows[k] = &cp
	}
	return nil
}

func (m *MockSummaryRepository) ApplyPatch(userID uint, conversationID string, peerID uint, patch models.SummaryPatch) error {
	m.patches++
	k := summaryKey{userID, conversationID}
	row, ok := m.rows[k]
	if !ok {
		row = &models.ConversationSummary{UserID: userID, ConversationID: conversationID, PeerID: peerID}
		m.rows[k] = row
	}
	patch.Apply(row)
	return nil
}

func (m *MockSummaryRepository) Get(userID uint, conversationID string) (*models.ConversationSummary, error) {
	if row, ok := m.rows[summaryKey{userID, conversationID}]; ok {
		return row, nil
	}
	return nil, testutil.GetRecordNotFoundError()
}

func (m *MockSummaryRepository) ListForUser(userID uint, limit int) ([]models.ConversationSummary, error) {
	var out []models.ConversationSummary
	for k, row := range m.rows {
		if k.user == userID {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.After(*b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockSummaryRepository) CountUnread(userID uint) (int64, error) {
	var n int64
	for k, row := range m.rows {
		if k.user == userID && row.Unread {
			n++
		}
	}
	return n, nil
}

// MockMessageRepository is a mock implementation of MessageRepository for testing
type MockMessageRepository struct {
	messages  []models.Message
	summaries *MockSummaryRepository
	nextID    int
	createErr error
}

func NewMockMessageRepository(summaries *MockSummaryRepository) *MockMessageRepository {
	return &MockMessageRepository{summaries: summaries}
}

func (m *MockMessageRepository) Create(message *models.Message) error {
	if m.createErr != nil {
		return m.createErr
	}
	if message.ID == "" {
		m.nextID++
		message.ID = string(rune('A' + m.nextID))
	}
	m.messages = append(m.messages, *message)
	return nil
}

func (m *MockMessageRepository) CreateWithSummaries(message *models.Message, recipientID uint) error {
	if err := m.Create(message); err != nil {
		return err
	}
	at := message.CreatedAt
	unread, read := true, false
	_ = m.summaries.ApplyPatch(recipientID, message.ConversationID, message.SenderID, models.SummaryPatch{Unread: &unread, LastMessage: &message.Text, LastMessageAt: &at})
	return m.summaries.ApplyPatch(message.SenderID, message.ConversationID, recipientID, models.SummaryPatch{Unread: &read, LastMessage: &message.Text, LastMessageAt: &at})
}

func (m *MockMessageRepository) FindByID(id string) (*models.Message, error) {
	for i := range m.messages {
		if m.messages[i].ID == id {
			return &m.messages[i], nil
		}
	}
	return nil, testutil.GetRecordNotFoundError()
}

func (m *MockMessageRepository) sorted(conversationID string) []models.Message {
	var out []models.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return models.OlderThan(out[j], out[i]) })
	return out
}

func (m *MockMessageRepository) FindLatest(conversationID string, limit int) ([]models.Message, error) {
	out := m.sorted(conversationID)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockMessageRepository) FindBefore(conversationID string, cursor models.Cursor, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, msg := range m.sorted(conversationID) {
		if cursor.After(msg) && len(out) < limit {
			out = append(out, msg)
		}
	}
	return out, nil
}

// recordingNotifier records live-query notifications
type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingNotifier) Notify(ctx context.Context, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, conversationID)
}
