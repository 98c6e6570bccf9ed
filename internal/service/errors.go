package service

import (
	"errors"

	"gorm.io/gorm"

	"github.com/RahmatullahZadran/appss/internal/feed"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrNotParticipant       = errors.New("not a participant of this conversation")
	ErrDataIntegrity        = feed.ErrDataIntegrity
	ErrInvalidInput         = errors.New("invalid input")
	ErrStorageNotConfigured = errors.New("storage not configured")
	ErrEmailTaken           = errors.New("email already exists")
	ErrInvalidCredentials   = errors.New("invalid credentials")
)

// notFound maps gorm's missing-row error onto ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
