package cache

import (
	"fmt"
	"time"

	"github.com/RahmatullahZadran/appss/internal/metrics"
	"github.com/RahmatullahZadran/appss/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	ProfileTTL = 10 * time.Minute
)

// UserCache caches public user profiles
type UserCache struct {
	redis *RedisCache
}

// NewUserCache creates a new user cache
func NewUserCache(redis *RedisCache) *UserCache {
	return &UserCache{redis: redis}
}

func profileKey(userID uint) string {
	return fmt.Sprintf("feed:profile:%d", userID)
}

// GetProfile retrieves a cached public profile
func (uc *UserCache) GetProfile(userID uint) (*models.UserResponse, bool) {
	if uc == nil || uc.redis == nil {
		return nil, false
	}
	data, err := uc.redis.Get(profileKey(userID))
	if err != nil || data == nil {
		metrics.CacheLookups.WithLabelValues("profile", "miss").Inc()
		return nil, false
	}

	var profile models.UserResponse
	if err := msgpack.Unmarshal(data, &profile); err != nil {
		metrics.CacheLookups.WithLabelValues("profile", "miss").Inc()
		return nil, false
	}

	metrics.CacheLookups.WithLabelValues("profile", "hit").Inc()
	return &profile, true
}

// SetProfile caches a public profile
func (uc *UserCache) SetProfile(profile models.UserResponse) error {
	if uc == nil || uc.redis == nil {
		return nil
	}
	data, err := msgpack.Marshal(profile)
	if err != nil {
		return err
	}
	return uc.redis.Set(profileKey(profile.ID), data, ProfileTTL)
}

// InvalidateProfile removes a cached profile after the user changed it
func (uc *UserCache) InvalidateProfile(userID uint) error {
	if uc == nil || uc.redis == nil {
		return nil
	}
	return uc.redis.Delete(profileKey(userID))
}
