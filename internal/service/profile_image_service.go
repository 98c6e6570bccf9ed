package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RahmatullahZadran/appss/internal/cache"
	"github.com/RahmatullahZadran/appss/internal/models"
	"github.com/RahmatullahZadran/appss/internal/repository"
	"github.com/RahmatullahZadran/appss/internal/storage"
)

// ObjectStore is the subset of the S3 client the profile image flow needs.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (storage.ObjectStat, error)
	DeleteObject(ctx context.Context, key string) error
}

type ProfileImageService struct {
	userRepo  repository.UserRepositoryInterface
	store     ObjectStore
	userCache *cache.UserCache
}

// NewProfileImageService accepts a nil store; uploads then fail with
// ErrStorageNotConfigured.
func NewProfileImageService(userRepo repository.UserRepositoryInterface, store ObjectStore, userCache *cache.UserCache) *ProfileImageService {
	return &ProfileImageService{userRepo: userRepo, store: store, userCache: userCache}
}

// Upload processes an uploaded image into a square JPEG and stores it as the
// user's profile image. Returns updated user.
func (s *ProfileImageService) Upload(ctx context.Context, userID uint, fileReader io.Reader, publicAPIBaseURL string) (*models.User, error) {
	if s.store == nil {
		return nil, ErrStorageNotConfigured
	}
	publicAPIBaseURL = strings.TrimRight(strings.TrimSpace(publicAPIBaseURL), "/")
	if publicAPIBaseURL == "" {
		return nil, errors.New("missing public api base url")
	}

	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return nil, notFound(err)
	}

	img, err := storage.ProcessProfileImage(fileReader, storage.DefaultProfileImageOptions())
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("profile-images/%d/%s.jpg", userID, uuid.NewString())
	if _, err := s.store.PutObject(ctx, key, img.Reader(), img.Size(), img.ContentType); err != nil {
		return nil, err
	}

	// Keep old key; delete only after DB update succeeds.
	oldKey := strings.TrimSpace(user.ProfileImageKey)

	now := time.Now().UTC()
	user.ProfileImage = publicAPIBaseURL + "/media/" + key
	user.ProfileImageKey = key
	user.ProfileImageUpdatedAt = &now

	if err := s.userRepo.Update(user); err != nil {
		_ = s.store.DeleteObject(ctx, key)
		return nil, err
	}

	if oldKey != "" && oldKey != key {
		_ = s.store.DeleteObject(ctx, oldKey)
	}
	_ = s.userCache.InvalidateProfile(userID)

	return user, nil
}

// Delete removes the user's profile image reference and the stored object
// (best-effort). Returns updated user.
func (s *ProfileImageService) Delete(ctx context.Context, userID uint) (*models.User, error) {
	if s.store == nil {
		return nil, ErrStorageNotConfigured
	}

	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return nil, notFound(err)
	}

	oldKey := strings.TrimSpace(user.ProfileImageKey)

	user.ProfileImage = ""
	user.ProfileImageKey = ""
	user.ProfileImageUpdatedAt = nil

	if err := s.userRepo.Update(user); err != nil {
		return nil, err
	}

	if oldKey != "" {
		_ = s.store.DeleteObject(ctx, oldKey)
	}
	_ = s.userCache.InvalidateProfile(userID)

	return user, nil
}
