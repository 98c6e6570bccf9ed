package repository_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/RahmatullahZadran/appss/internal/models"
	"github.com/RahmatullahZadran/appss/internal/repository"
	"github.com/RahmatullahZadran/appss/internal/testutil"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type RepositorySuite struct {
	suite.Suite
	h             *testutil.TestHelper
	messages      *repository.MessageRepository
	conversations *repository.ConversationRepository
	summaries     *repository.SummaryRepository
	users         *repository.UserRepository

	alice, bob *models.User
	conv       *models.Conversation
}

func (s *RepositorySuite) SetupTest() {
	s.h = testutil.NewTestHelper(s.T())
	s.messages = repository.NewMessageRepository(s.h.DB)
	s.conversations = repository.NewConversationRepository(s.h.DB)
	s.summaries = repository.NewSummaryRepository(s.h.DB)
	s.users = repository.NewUserRepository(s.h.DB)

	s.alice = s.h.CreateTestUser("alice@example.com", "Alice")
	s.bob = s.h.CreateTestUser("bob@example.com", "Bob")
	s.conv = s.h.CreateTestConversation(s.alice.ID, s.bob.ID)
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) TestFindLatestIsNewestFirst() {
	all := s.h.CreateTestMessages(s.conv.ID, s.alice.ID, base, 10)

	latest, err := s.messages.FindLatest(s.conv.ID, 4)
	s.Require().NoError(err)
	s.Require().Len(latest, 4)
	for i, m := range latest {
		s.Equal(all[9-i].ID, m.ID)
	}
}

func (s *RepositorySuite) TestFindBeforePagesWithoutOverlap() {
	all := s.h.CreateTestMessages(s.conv.ID, s.alice.ID, base, 10)

	page, err := s.messages.FindLatest(s.conv.ID, 4)
	s.Require().NoError(err)

	seen := map[string]bool{}
	for _, m := range page {
		seen[m.ID] = true
	}
	for len(page) > 0 {
		cursor := models.CursorOf(page[len(page)-1])
		page, err = s.messages.FindBefore(s.conv.ID, cursor, 4)
		s.Require().NoError(err)
		for _, m := range page {
			s.False(seen[m.ID], "message %s returned twice", m.ID)
			s.True(cursor.After(m))
			seen[m.ID] = true
		}
	}
	s.Len(seen, len(all))
}

func (s *RepositorySuite) TestFindBeforeBreaksTimestampTies() {
	for _, id := range []string{"01HQ000000000000000000000A", "01HQ000000000000000000000B"} {
		s.Require().NoError(s.messages.Create(&models.Message{
			ID:             id,
			ConversationID: s.conv.ID,
			SenderID:       s.alice.ID,
			Text:           "tie",
			CreatedAt:      base,
		}))
	}
	latest, err := s.messages.FindLatest(s.conv.ID, 1)
	s.Require().NoError(err)
	s.Require().Len(latest, 1)

	older, err := s.messages.FindBefore(s.conv.ID, models.CursorOf(latest[0]), 5)
	s.Require().NoError(err)
	s.Require().Len(older, 1)
	s.NotEqual(latest[0].ID, older[0].ID)
	s.True(older[0].ID < latest[0].ID)
}

func (s *RepositorySuite) TestCreateAssignsIDAndNormalizesTime() {
	msg := &models.Message{
		ConversationID: s.conv.ID,
		SenderID:       s.alice.ID,
		Text:           "hello",
		CreatedAt:      base.Add(123456789 * time.Nanosecond).In(time.FixedZone("X", 3600)),
	}
	s.Require().NoError(s.messages.Create(msg))
	s.Len(msg.ID, 26)
	s.Equal(time.UTC, msg.CreatedAt.Location())
	s.Equal(123456000, msg.CreatedAt.Nanosecond())

	got, err := s.messages.FindByID(msg.ID)
	s.Require().NoError(err)
	s.True(got.CreatedAt.Equal(msg.CreatedAt))
}

func (s *RepositorySuite) TestCreateWithSummaries() {
	msg := &models.Message{ConversationID: s.conv.ID, SenderID: s.alice.ID, Text: "see you", CreatedAt: base}
	s.Require().NoError(s.messages.CreateWithSummaries(msg, s.bob.ID))

	recipient, err := s.summaries.Get(s.bob.ID, s.conv.ID)
	s.Require().NoError(err)
	s.True(recipient.Unread)
	s.Equal("see you", recipient.LastMessage)
	s.Require().NotNil(recipient.LastMessageAt)
	s.True(recipient.LastMessageAt.Equal(base))

	sender, err := s.summaries.Get(s.alice.ID, s.conv.ID)
	s.Require().NoError(err)
	s.False(sender.Unread)
	s.Equal("see you", sender.LastMessage)
}

func (s *RepositorySuite) TestCreateWithSummariesRollsBack() {
	first := &models.Message{ID: "01HQ00000000000000000000ZZ", ConversationID: s.conv.ID, SenderID: s.alice.ID, Text: "one", CreatedAt: base}
	s.Require().NoError(s.messages.Create(first))

	dup := &models.Message{ID: first.ID, ConversationID: s.conv.ID, SenderID: s.alice.ID, Text: "two", CreatedAt: base}
	s.Error(s.messages.CreateWithSummaries(dup, s.bob.ID))

	recipient, err := s.summaries.Get(s.bob.ID, s.conv.ID)
	s.Require().NoError(err)
	s.False(recipient.Unread)
	s.Empty(recipient.LastMessage)
}

func (s *RepositorySuite) TestApplyPatchTouchesOnlyGivenFields() {
	text := "hi"
	at := base
	unread := true
	s.Require().NoError(s.summaries.ApplyPatch(s.bob.ID, s.conv.ID, s.alice.ID, models.SummaryPatch{
		Unread: &unread, LastMessage: &text, LastMessageAt: &at,
	}))

	read := false
	s.Require().NoError(s.summaries.ApplyPatch(s.bob.ID, s.conv.ID, s.alice.ID, models.SummaryPatch{Unread: &read}))

	got, err := s.summaries.Get(s.bob.ID, s.conv.ID)
	s.Require().NoError(err)
	s.False(got.Unread)
	s.Equal("hi", got.LastMessage)
	s.Equal(s.alice.ID, got.PeerID)
}

func (s *RepositorySuite) TestApplyPatchCreatesMissingRow() {
	carol := s.h.CreateTestUser("", "Carol")
	unread := true
	s.Require().NoError(s.summaries.ApplyPatch(carol.ID, s.conv.ID, s.alice.ID, models.SummaryPatch{Unread: &unread}))

	got, err := s.summaries.Get(carol.ID, s.conv.ID)
	s.Require().NoError(err)
	s.True(got.Unread)
	s.Equal(s.alice.ID, got.PeerID)
}

func (s *RepositorySuite) TestListForUserAndCountUnread() {
	carol := s.h.CreateTestUser("", "Carol")
	other := s.h.CreateTestConversation(s.alice.ID, carol.ID)
	empty := s.h.CreateTestConversation(s.alice.ID, s.h.CreateTestUser("", "Dan").ID)

	s.Require().NoError(s.messages.CreateWithSummaries(&models.Message{ConversationID: s.conv.ID, SenderID: s.bob.ID, Text: "old", CreatedAt: base}, s.alice.ID))
	s.Require().NoError(s.messages.CreateWithSummaries(&models.Message{ConversationID: other.ID, SenderID: carol.ID, Text: "new", CreatedAt: base.Add(time.Minute)}, s.alice.ID))

	list, err := s.summaries.ListForUser(s.alice.ID, 0)
	s.Require().NoError(err)
	s.Require().Len(list, 3)
	s.Equal(other.ID, list[0].ConversationID)
	s.Equal(s.conv.ID, list[1].ConversationID)
	s.Equal(empty.ID, list[2].ConversationID)

	count, err := s.summaries.CountUnread(s.alice.ID)
	s.Require().NoError(err)
	s.Equal(int64(2), count)
}

func (s *RepositorySuite) TestUpsertKeepsExistingRow() {
	unread := true
	s.Require().NoError(s.summaries.ApplyPatch(s.alice.ID, s.conv.ID, s.bob.ID, models.SummaryPatch{Unread: &unread}))
	s.Require().NoError(s.summaries.Upsert(&models.ConversationSummary{UserID: s.alice.ID, ConversationID: s.conv.ID, PeerID: s.bob.ID}))

	got, err := s.summaries.Get(s.alice.ID, s.conv.ID)
	s.Require().NoError(err)
	s.True(got.Unread)
}

func (s *RepositorySuite) TestConversationLookup() {
	byPair, err := s.conversations.FindByParticipants(s.bob.ID, s.alice.ID)
	s.Require().NoError(err)
	s.Equal(s.conv.ID, byPair.ID)
	s.ElementsMatch([]uint{s.alice.ID, s.bob.ID}, byPair.ParticipantIDs())

	ids, err := s.conversations.Participants(s.conv.ID)
	s.Require().NoError(err)
	s.ElementsMatch([]uint{s.alice.ID, s.bob.ID}, ids)

	ok, err := s.conversations.IsParticipant(s.conv.ID, s.alice.ID)
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.conversations.IsParticipant(s.conv.ID, 9999)
	s.Require().NoError(err)
	s.False(ok)

	_, err = s.conversations.Participants("missing")
	s.True(errors.Is(err, gorm.ErrRecordNotFound))
}

func (s *RepositorySuite) TestConversationPairIsUnique() {
	dup := &models.Conversation{Participants: []models.ConversationParticipant{{UserID: s.bob.ID}, {UserID: s.alice.ID}}}
	s.Error(s.conversations.Create(dup))
}

func (s *RepositorySuite) TestUserPushToken() {
	s.Require().NoError(s.users.UpdatePushToken(s.alice.ID, "token-1"))
	got, err := s.users.FindByID(s.alice.ID)
	s.Require().NoError(err)
	s.Equal("token-1", got.PushToken)

	s.True(errors.Is(s.users.UpdatePushToken(9999, "x"), gorm.ErrRecordNotFound))

	users, err := s.users.FindByIDs([]uint{s.alice.ID, s.bob.ID})
	s.Require().NoError(err)
	s.Len(users, 2)
}
