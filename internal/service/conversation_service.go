package service

import (
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/RahmatullahZadran/appss/internal/cache"
	"github.com/RahmatullahZadran/appss/internal/models"
	"github.com/RahmatullahZadran/appss/internal/repository"
)

const DefaultInboxLimit = 50

type ConversationService struct {
	conversationRepo repository.ConversationRepositoryInterface
	summaryRepo      repository.SummaryRepositoryInterface
	userRepo         repository.UserRepositoryInterface
	messageCache     *cache.MessageCache
	userCache        *cache.UserCache
	log              zerolog.Logger
}

func NewConversationService(
	conversationRepo repository.ConversationRepositoryInterface,
	summaryRepo repository.SummaryRepositoryInterface,
	userRepo repository.UserRepositoryInterface,
	messageCache *cache.MessageCache,
	userCache *cache.UserCache,
	log zerolog.Logger,
) *ConversationService {
	return &ConversationService{
		conversationRepo: conversationRepo,
		summaryRepo:      summaryRepo,
		userRepo:         userRepo,
		messageCache:     messageCache,
		userCache:        userCache,
		log:              log.With().Str("component", "conversation_service").Logger(),
	}
}

// Open returns the conversation between userID and peerID, creating it and
// both read-state summaries on first use. created reports whether a new
// conversation was made.
func (s *ConversationService) Open(userID, peerID uint) (conv *models.Conversation, created bool, err error) {
	if peerID == 0 || peerID == userID {
		return nil, false, ErrInvalidInput
	}
	if _, err := s.userRepo.FindByID(peerID); err != nil {
		return nil, false, notFound(err)
	}

	conv, err = s.conversationRepo.FindByParticipants(userID, peerID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	conv = &models.Conversation{
		Participants: []models.ConversationParticipant{{UserID: userID}, {UserID: peerID}},
	}
	if err := s.conversationRepo.Create(conv); err != nil {
		// Lost a race against the peer opening the same pair.
		if existing, findErr := s.conversationRepo.FindByParticipants(userID, peerID); findErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}

	for _, pair := range [][2]uint{{userID, peerID}, {peerID, userID}} {
		if err := s.summaryRepo.Upsert(&models.ConversationSummary{
			UserID:         pair[0],
			ConversationID: conv.ID,
			PeerID:         pair[1],
		}); err != nil {
			return nil, false, err
		}
	}
	if err := s.messageCache.InvalidateReadState(userID, peerID); err != nil {
		s.log.Warn().Err(err).Msg("failed to invalidate read state cache")
	}
	s.log.Info().Str("conversation_id", conv.ID).Uint("user_id", userID).Uint("peer_id", peerID).Msg("conversation opened")
	return conv, true, nil
}

// Get returns a conversation the caller participates in.
func (s *ConversationService) Get(userID uint, conversationID string) (*models.Conversation, error) {
	conv, err := s.conversationRepo.FindByID(conversationID)
	if err != nil {
		return nil, notFound(err)
	}
	for _, id := range conv.ParticipantIDs() {
		if id == userID {
			return conv, nil
		}
	}
	return nil, ErrNotParticipant
}

// Inbox lists the caller's conversations, most recent activity first, with
// each peer's public profile.
func (s *ConversationService) Inbox(userID uint) ([]models.InboxEntry, error) {
	if cached, ok := s.messageCache.GetInbox(userID); ok {
		return cached, nil
	}

	summaries, err := s.summaryRepo.ListForUser(userID, DefaultInboxLimit)
	if err != nil {
		return nil, err
	}

	peers := make(map[uint]models.UserResponse, len(summaries))
	var missing []uint
	for _, sum := range summaries {
		if p, ok := s.userCache.GetProfile(sum.PeerID); ok {
			peers[sum.PeerID] = *p
		} else {
			missing = append(missing, sum.PeerID)
		}
	}
	if len(missing) > 0 {
		users, err := s.userRepo.FindByIDs(missing)
		if err != nil {
			return nil, err
		}
		for i := range users {
			resp := users[i].ToResponse()
			peers[resp.ID] = resp
			_ = s.userCache.SetProfile(resp)
		}
	}

	entries := make([]models.InboxEntry, 0, len(summaries))
	for _, sum := range summaries {
		entries = append(entries, models.InboxEntry{ConversationSummary: sum, Peer: peers[sum.PeerID]})
	}
	if err := s.messageCache.SetInbox(userID, entries); err != nil {
		s.log.Warn().Err(err).Msg("failed to cache inbox")
	}
	return entries, nil
}

// UnreadCount returns how many of the caller's conversations are unread.
func (s *ConversationService) UnreadCount(userID uint) (int64, error) {
	if cached, ok := s.messageCache.GetUnreadCount(userID); ok {
		return cached, nil
	}
	count, err := s.summaryRepo.CountUnread(userID)
	if err != nil {
		return 0, err
	}
	_ = s.messageCache.SetUnreadCount(userID, count)
	return count, nil
}

// MarkRead clears the caller's unread flag on a conversation.
func (s *ConversationService) MarkRead(userID uint, conversationID string) error {
	conv, err := s.Get(userID, conversationID)
	if err != nil {
		return err
	}
	var peerID uint
	for _, id := range conv.ParticipantIDs() {
		if id != userID {
			peerID = id
		}
	}
	read := false
	if err := s.summaryRepo.ApplyPatch(userID, conversationID, peerID, models.SummaryPatch{Unread: &read}); err != nil {
		return err
	}
	if err := s.messageCache.InvalidateReadState(userID); err != nil {
		s.log.Warn().Err(err).Msg("failed to invalidate read state cache")
	}
	return nil
}
