package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"chat-sync/internal/directory"
	"chat-sync/internal/media"
	"chat-sync/internal/models"
	"chat-sync/internal/store"
)

var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already taken")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// Service registers and authenticates accounts.
type Service struct {
	directory directory.Directory
	store     store.Store
	uploader  media.Uploader
	tokens    *TokenManager
}

// NewService constructs a Service.
func NewService(dir directory.Directory, st store.Store, uploader media.Uploader, tokens *TokenManager) *Service {
	return &Service{directory: dir, store: st, uploader: uploader, tokens: tokens}
}

// RegisterInput carries a registration request. AvatarData is optional.
type RegisterInput struct {
	Username       string
	Email          string
	Password       string
	AvatarFilename string
	AvatarData     []byte
}

// Register creates the account, seeds its empty membership record and
// returns the user with a session token.
func (s *Service) Register(ctx context.Context, input RegisterInput) (models.User, string, error) {
	if _, err := s.directory.FindUserByUsername(ctx, input.Username); err == nil {
		return models.User{}, "", ErrUsernameTaken
	} else if !errors.Is(err, directory.ErrUserNotFound) {
		return models.User{}, "", err
	}
	if _, err := s.directory.FindUserByEmail(ctx, input.Email); err == nil {
		return models.User{}, "", ErrEmailTaken
	} else if !errors.Is(err, directory.ErrUserNotFound) {
		return models.User{}, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	avatarURL := ""
	if len(input.AvatarData) > 0 {
		avatarURL, err = s.uploader.Upload(ctx, input.AvatarFilename, input.AvatarData)
		if err != nil {
			return models.User{}, "", err
		}
	}

	user := models.User{
		ID:           uuid.NewString(),
		Username:     input.Username,
		Email:        input.Email,
		AvatarURL:    avatarURL,
		Blocked:      []string{},
		PasswordHash: string(hash),
	}
	if err := s.directory.CreateUser(ctx, user); err != nil {
		return models.User{}, "", fmt.Errorf("create user: %w", err)
	}
	if err := s.store.SetMembership(ctx, user.ID, nil); err != nil {
		return models.User{}, "", fmt.Errorf("seed membership: %w", err)
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return models.User{}, "", fmt.Errorf("generate token: %w", err)
	}
	return user, token, nil
}

// Login checks credentials and returns the user with a session token.
func (s *Service) Login(ctx context.Context, email, password string) (models.User, string, error) {
	user, err := s.directory.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return models.User{}, "", ErrInvalidCredentials
		}
		return models.User{}, "", err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return models.User{}, "", ErrInvalidCredentials
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return models.User{}, "", fmt.Errorf("generate token: %w", err)
	}
	return user, token, nil
}
