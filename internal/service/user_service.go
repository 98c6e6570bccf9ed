package service

import (
	"fmt"
	"strings"

	"github.com/RahmatullahZadran/appss/internal/cache"
	"github.com/RahmatullahZadran/appss/internal/models"
	"github.com/RahmatullahZadran/appss/internal/repository"
	"github.com/RahmatullahZadran/appss/internal/validation"
)

type UserService struct {
	userRepo  repository.UserRepositoryInterface
	userCache *cache.UserCache
}

func NewUserService(userRepo repository.UserRepositoryInterface, userCache *cache.UserCache) *UserService {
	return &UserService{userRepo: userRepo, userCache: userCache}
}

type UpdateProfileInput struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

func (s *UserService) GetUserByID(userID uint) (*models.User, error) {
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

// GetProfile returns the public profile of a user, cached.
func (s *UserService) GetProfile(userID uint) (*models.UserResponse, error) {
	if p, ok := s.userCache.GetProfile(userID); ok {
		return p, nil
	}
	user, err := s.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	resp := user.ToResponse()
	_ = s.userCache.SetProfile(resp)
	return &resp, nil
}

func (s *UserService) UpdateProfile(userID uint, input UpdateProfileInput) (*models.User, error) {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return nil, err
	}

	if input.FirstName != nil {
		if !validation.ValidateName(*input.FirstName) {
			return nil, fmt.Errorf("%w: invalid first name", ErrInvalidInput)
		}
		user.FirstName = validation.NormalizeName(*input.FirstName)
	}
	if input.LastName != nil {
		last := validation.NormalizeName(*input.LastName)
		if last != "" && !validation.ValidateName(last) {
			return nil, fmt.Errorf("%w: invalid last name", ErrInvalidInput)
		}
		user.LastName = last
	}

	if err := s.userRepo.Update(user); err != nil {
		return nil, err
	}
	_ = s.userCache.InvalidateProfile(userID)
	return user, nil
}

// SetPushToken stores the device token used for message notifications. An
// empty token unregisters the device.
func (s *UserService) SetPushToken(userID uint, token string) error {
	token = strings.TrimSpace(token)
	if len(token) > 512 {
		return fmt.Errorf("%w: push token too long", ErrInvalidInput)
	}
	return notFound(s.userRepo.UpdatePushToken(userID, token))
}
