package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/RahmatullahZadran/appss/internal/cache"
	"github.com/RahmatullahZadran/appss/internal/feed"
	"github.com/RahmatullahZadran/appss/internal/metrics"
	"github.com/RahmatullahZadran/appss/internal/models"
	"github.com/RahmatullahZadran/appss/internal/repository"
	"github.com/RahmatullahZadran/appss/internal/validation"
)

const (
	DefaultPageSize = 6
	MaxPageSize     = 100
)

// Notifier is told whenever the messages of a conversation change.
type Notifier interface {
	Notify(ctx context.Context, conversationID string)
}

type MessageService struct {
	messageRepo      repository.MessageRepositoryInterface
	conversationRepo repository.ConversationRepositoryInterface
	summaryRepo      repository.SummaryRepositoryInterface
	cache            *cache.MessageCache
	notifier         Notifier
	log              zerolog.Logger
}

func NewMessageService(
	messageRepo repository.MessageRepositoryInterface,
	conversationRepo repository.ConversationRepositoryInterface,
	summaryRepo repository.SummaryRepositoryInterface,
	messageCache *cache.MessageCache,
	log zerolog.Logger,
) *MessageService {
	return &MessageService{
		messageRepo:      messageRepo,
		conversationRepo: conversationRepo,
		summaryRepo:      summaryRepo,
		cache:            messageCache,
		log:              log.With().Str("component", "message_service").Logger(),
	}
}

// SetNotifier wires the live-query broker in after construction.
func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

type SendMessageInput struct {
	Text string `json:"text"`
	// CreatedAt is the sender's clock reading; the server time is used when
	// it is missing.
	CreatedAt *time.Time `json:"created_at"`
	// RecipientID is optional on the atomic send; when present it must match
	// the conversation's other participant.
	RecipientID uint `json:"recipient_id"`
}

// participants returns the participants of conversationID after checking that
// userID is one of them.
func (s *MessageService) participants(conversationID string, userID uint) ([]uint, error) {
	ids, err := s.conversationRepo.Participants(conversationID)
	if err != nil {
		return nil, notFound(err)
	}
	for _, id := range ids {
		if id == userID {
			return ids, nil
		}
	}
	return nil, ErrNotParticipant
}

// Participants lists the participants of a conversation the caller belongs to.
func (s *MessageService) Participants(userID uint, conversationID string) ([]uint, error) {
	return s.participants(conversationID, userID)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// Latest returns the newest messages of a conversation, newest first.
func (s *MessageService) Latest(userID uint, conversationID string, limit int) ([]models.Message, error) {
	if _, err := s.participants(conversationID, userID); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	if cached, ok := s.cache.GetWindow(conversationID, limit); ok {
		return cached, nil
	}

	start := time.Now()
	messages, err := s.messageRepo.FindLatest(conversationID, limit)
	metrics.PostgresLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetWindow(conversationID, limit, messages); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to cache window")
	}
	return messages, nil
}

// Before returns up to limit messages strictly older than cursor, newest first.
func (s *MessageService) Before(userID uint, conversationID string, cursor models.Cursor, limit int) ([]models.Message, error) {
	if _, err := s.participants(conversationID, userID); err != nil {
		return nil, err
	}
	if cursor.MessageID == "" || cursor.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: cursor needs message id and timestamp", ErrInvalidInput)
	}

	start := time.Now()
	messages, err := s.messageRepo.FindBefore(conversationID, cursor, clampLimit(limit))
	metrics.PostgresLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	metrics.PagesServed.Inc()
	return messages, nil
}

func (s *MessageService) newMessage(senderID uint, conversationID string, input SendMessageInput) (*models.Message, error) {
	if !validation.ValidateMessageText(input.Text) {
		return nil, fmt.Errorf("%w: message text is empty or too long", ErrInvalidInput)
	}
	createdAt := time.Now()
	if input.CreatedAt != nil && !input.CreatedAt.IsZero() {
		createdAt = *input.CreatedAt
	}
	return &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           strings.TrimSpace(input.Text),
		CreatedAt:      models.NormalizeTimestamp(createdAt),
	}, nil
}

// Append stores a message without touching read state.
func (s *MessageService) Append(ctx context.Context, senderID uint, conversationID string, input SendMessageInput) (*models.Message, error) {
	if _, err := s.participants(conversationID, senderID); err != nil {
		return nil, err
	}
	msg, err := s.newMessage(senderID, conversationID, input)
	if err != nil {
		return nil, err
	}
	if err := s.messageRepo.Create(msg); err != nil {
		return nil, err
	}
	metrics.MessagesStored.WithLabelValues("insert").Inc()
	s.changed(ctx, conversationID)
	return msg, nil
}

// SendAtomic stores a message and updates both participants' read state in
// one transaction. The recipient is the conversation's other participant; a
// conversation that is not a valid pair is rejected before anything is
// written.
func (s *MessageService) SendAtomic(ctx context.Context, senderID uint, conversationID string, input SendMessageInput) (*models.Message, error) {
	participants, err := s.participants(conversationID, senderID)
	if err != nil {
		return nil, err
	}
	recipientID, err := feed.ResolveRecipient(participants, senderID)
	if err != nil {
		s.log.Error().Err(err).Str("conversation_id", conversationID).Msg("refusing send to malformed conversation")
		return nil, err
	}
	if input.RecipientID != 0 && input.RecipientID != recipientID {
		return nil, fmt.Errorf("%w: recipient %d is not the other participant", ErrInvalidInput, input.RecipientID)
	}
	msg, err := s.newMessage(senderID, conversationID, input)
	if err != nil {
		return nil, err
	}
	if err := s.messageRepo.CreateWithSummaries(msg, recipientID); err != nil {
		return nil, err
	}
	metrics.MessagesStored.WithLabelValues("atomic").Inc()
	if err := s.cache.InvalidateReadState(senderID, recipientID); err != nil {
		s.log.Warn().Err(err).Msg("failed to invalidate read state cache")
	}
	s.changed(ctx, conversationID)
	return msg, nil
}

// PatchSummary merge-patches the read state targetID holds for a
// conversation. Both the caller and the target must be participants.
func (s *MessageService) PatchSummary(actorID uint, conversationID string, targetID uint, patch models.SummaryPatch) error {
	participants, err := s.participants(conversationID, actorID)
	if err != nil {
		return err
	}
	var peerID uint
	isTarget := false
	for _, id := range participants {
		if id == targetID {
			isTarget = true
		} else {
			peerID = id
		}
	}
	if !isTarget {
		return ErrNotParticipant
	}
	if patch.Empty() {
		return nil
	}
	if err := s.summaryRepo.ApplyPatch(targetID, conversationID, peerID, patch); err != nil {
		return err
	}
	metrics.SummaryPatches.Inc()
	if err := s.cache.InvalidateReadState(targetID); err != nil {
		s.log.Warn().Err(err).Msg("failed to invalidate read state cache")
	}
	return nil
}

// changed drops cached windows and wakes live queries.
func (s *MessageService) changed(ctx context.Context, conversationID string) {
	if err := s.cache.InvalidateWindow(conversationID); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to invalidate window cache")
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, conversationID)
	}
}
