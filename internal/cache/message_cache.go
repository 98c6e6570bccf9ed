package cache

import (
	"fmt"
	"time"

	"github.com/RahmatullahZadran/appss/internal/metrics"
	"github.com/RahmatullahZadran/appss/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// TTL constants for different cache types
const (
	WindowTTL      = 5 * time.Minute
	InboxTTL       = 2 * time.Minute
	UnreadCountTTL = 1 * time.Minute
)

// MessageCache handles message-related caching
type MessageCache struct {
	redis *RedisCache
}

// NewMessageCache creates a new message cache
func NewMessageCache(redis *RedisCache) *MessageCache {
	return &MessageCache{redis: redis}
}

func windowKey(conversationID string, limit int) string {
	return fmt.Sprintf("feed:window:%s:%d", conversationID, limit)
}

func inboxKey(userID uint) string {
	return fmt.Sprintf("feed:inbox:%d", userID)
}

func unreadKey(userID uint) string {
	return fmt.Sprintf("feed:unread:%d", userID)
}

// GetWindow retrieves the cached newest messages of a conversation, newest first
func (mc *MessageCache) GetWindow(conversationID string, limit int) ([]models.Message, bool) {
	if mc == nil || mc.redis == nil {
		return nil, false
	}
	data, err := mc.redis.Get(windowKey(conversationID, limit))
	if err != nil || data == nil {
		metrics.CacheLookups.WithLabelValues("window", "miss").Inc()
		return nil, false
	}

	var messages []models.Message
	if err := msgpack.Unmarshal(data, &messages); err != nil {
		metrics.CacheLookups.WithLabelValues("window", "miss").Inc()
		return nil, false
	}

	metrics.CacheLookups.WithLabelValues("window", "hit").Inc()
	return messages, true
}

// SetWindow caches the newest messages of a conversation
func (mc *MessageCache) SetWindow(conversationID string, limit int, messages []models.Message) error {
	if mc == nil || mc.redis == nil {
		return nil
	}
	data, err := msgpack.Marshal(messages)
	if err != nil {
		return err
	}

	return mc.redis.Set(windowKey(conversationID, limit), data, WindowTTL)
}

// InvalidateWindow removes every cached window size of a conversation
func (mc *MessageCache) InvalidateWindow(conversationID string) error {
	if mc == nil || mc.redis == nil {
		return nil
	}
	return mc.redis.DeletePattern(fmt.Sprintf("feed:window:%s:*", conversationID))
}

// GetInbox retrieves the cached inbox of a user
func (mc *MessageCache) GetInbox(userID uint) ([]models.InboxEntry, bool) {
	if mc == nil || mc.redis == nil {
		return nil, false
	}
	data, err := mc.redis.Get(inboxKey(userID))
	if err != nil || data == nil {
		metrics.CacheLookups.WithLabelValues("inbox", "miss").Inc()
		return nil, false
	}

	var entries []models.InboxEntry
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		metrics.CacheLookups.WithLabelValues("inbox", "miss").Inc()
		return nil, false
	}

	metrics.CacheLookups.WithLabelValues("inbox", "hit").Inc()
	return entries, true
}

// SetInbox caches the inbox of a user
func (mc *MessageCache) SetInbox(userID uint, entries []models.InboxEntry) error {
	if mc == nil || mc.redis == nil {
		return nil
	}
	data, err := msgpack.Marshal(entries)
	if err != nil {
		return err
	}

	return mc.redis.Set(inboxKey(userID), data, InboxTTL)
}

// GetUnreadCount retrieves the cached number of unread conversations
func (mc *MessageCache) GetUnreadCount(userID uint) (int64, bool) {
	if mc == nil || mc.redis == nil {
		return 0, false
	}
	data, err := mc.redis.Get(unreadKey(userID))
	if err != nil || data == nil {
		return 0, false
	}

	var count int64
	if err := msgpack.Unmarshal(data, &count); err != nil {
		return 0, false
	}

	return count, true
}

// SetUnreadCount caches the number of unread conversations
func (mc *MessageCache) SetUnreadCount(userID uint, count int64) error {
	if mc == nil || mc.redis == nil {
		return nil
	}
	data, err := msgpack.Marshal(count)
	if err != nil {
		return err
	}

	return mc.redis.Set(unreadKey(userID), data, UnreadCountTTL)
}

// InvalidateReadState drops the inbox and unread count of the given users
func (mc *MessageCache) InvalidateReadState(userIDs ...uint) error {
	if mc == nil || mc.redis == nil {
		return nil
	}
	keys := make([]string, 0, 2*len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, inboxKey(id), unreadKey(id))
	}
	return mc.redis.Delete(keys...)
}
