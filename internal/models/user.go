package models

import (
	"time"

	"gorm.io/gorm"
)

type Role string

const (
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Role         Role   `gorm:"type:varchar(20);not null;default:student" json:"role"`

	ProfileImage          string     `json:"profile_image"`
	ProfileImageKey       string     `json:"-"`
	ProfileImageUpdatedAt *time.Time `json:"-"`

	PushToken string `json:"-"`
}

type UserResponse struct {
	ID           uint   `json:"id" msgpack:"id"`
	FirstName    string `json:"first_name" msgpack:"first_name"`
	LastName     string `json:"last_name" msgpack:"last_name"`
	Role         Role   `json:"role" msgpack:"role"`
	ProfileImage string `json:"profile_image" msgpack:"profile_image"`
}

func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:           u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Role:         u.Role,
		ProfileImage: u.ProfileImage,
	}
}

// SelfResponse includes the fields only the account owner sees.
type SelfResponse struct {
	UserResponse
	Email        string `json:"email"`
	HasPushToken bool   `json:"has_push_token"`
}

func (u *User) ToSelfResponse() SelfResponse {
	return SelfResponse{
		UserResponse: u.ToResponse(),
		Email:        u.Email,
		HasPushToken: u.PushToken != "",
	}
}
