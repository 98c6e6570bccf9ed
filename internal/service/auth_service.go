package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/RahmatullahZadran/appss/internal/models"
	"github.com/RahmatullahZadran/appss/internal/repository"
	"github.com/RahmatullahZadran/appss/internal/validation"
)

const TokenTTL = 7 * 24 * time.Hour

type AuthService struct {
	userRepo  repository.UserRepositoryInterface
	jwtSecret []byte
	now       func() time.Time
}

func NewAuthService(userRepo repository.UserRepositoryInterface, jwtSecret string) *AuthService {
	return &AuthService{userRepo: userRepo, jwtSecret: []byte(jwtSecret), now: time.Now}
}

type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token     string              `json:"token"`
	ExpiresAt time.Time           `json:"expires_at"`
	User      models.SelfResponse `json:"user"`
}

func (s *AuthService) Register(input RegisterInput) (*AuthResponse, error) {
	email := validation.NormalizeEmail(input.Email)
	if !validation.ValidateEmail(email) {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if !validation.ValidatePassword(input.Password) {
		return nil, fmt.Errorf("%w: password too short", ErrInvalidInput)
	}
	if !validation.ValidateName(input.FirstName) {
		return nil, fmt.Errorf("%w: invalid first name", ErrInvalidInput)
	}
	if input.LastName != "" && !validation.ValidateName(input.LastName) {
		return nil, fmt.Errorf("%w: invalid last name", ErrInvalidInput)
	}
	role := input.Role
	if role == "" {
		role = string(models.RoleStudent)
	}
	if !validation.ValidateRole(role) {
		return nil, fmt.Errorf("%w: invalid role", ErrInvalidInput)
	}

	// Check if user exists
	if _, err := s.userRepo.FindByEmail(email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hashedPassword),
		FirstName:    validation.NormalizeName(input.FirstName),
		LastName:     validation.NormalizeName(input.LastName),
		Role:         models.Role(role),
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}

	return s.respond(user)
}

func (s *AuthService) Login(input LoginInput) (*AuthResponse, error) {
	user, err := s.userRepo.FindByEmail(validation.NormalizeEmail(input.Email))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.respond(user)
}

func (s *AuthService) respond(user *models.User) (*AuthResponse, error) {
	expiresAt := s.now().Add(TokenTTL)
	token, err := s.generateToken(user, expiresAt)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user.ToSelfResponse(),
	}, nil
}

func (s *AuthService) generateToken(user *models.User, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"user_id": user.ID,
		"email":   user.Email,
		"role":    string(user.Role),
		"iat":     s.now().Unix(),
		"exp":     expiresAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
