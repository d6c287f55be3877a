package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/location-analysis-service/internal/models"
	"github.com/kjstillabower/location-analysis-service/internal/observability"
	"github.com/kjstillabower/location-analysis-service/internal/store"
)

// UserRepository is the persistence the auth service needs.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	User      models.User
	ExpiresIn time.Duration
}

// Service registers users, logs them in and authenticates bearer tokens.
type Service struct {
	users  UserRepository
	hasher PasswordHasher
	tokens *TokenService
	now    func() time.Time
}

func NewService(users UserRepository, hasher PasswordHasher, tokens *TokenService) *Service {
	return &Service{users: users, hasher: hasher, tokens: tokens, now: time.Now}
}

// Register creates a user. Input is assumed validated; a duplicate email returns ErrEmailTaken.
func (s *Service) Register(ctx context.Context, email, name, password string) (models.User, error) {
	logger := observability.LoggerFromContext(ctx)

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.User{}, err
	}
	user := models.User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		CreatedAt:    s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			observability.AuthAttemptsTotal.WithLabelValues("register", "conflict").Inc()
			return models.User{}, ErrEmailTaken
		}
		observability.AuthAttemptsTotal.WithLabelValues("register", "error").Inc()
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	observability.AuthAttemptsTotal.WithLabelValues("register", "success").Inc()
	logger.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// Login verifies credentials and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			observability.AuthAttemptsTotal.WithLabelValues("login", "invalid").Inc()
			return Session{}, ErrInvalidCredentials
		}
		observability.AuthAttemptsTotal.WithLabelValues("login", "error").Inc()
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		observability.AuthAttemptsTotal.WithLabelValues("login", "invalid").Inc()
		return Session{}, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		observability.AuthAttemptsTotal.WithLabelValues("login", "error").Inc()
		return Session{}, err
	}
	observability.AuthAttemptsTotal.WithLabelValues("login", "success").Inc()
	return Session{Token: token, User: user, ExpiresIn: s.tokens.Lifetime()}, nil
}

// Authenticate validates a bearer token and loads its user.
func (s *Service) Authenticate(ctx context.Context, token string) (models.User, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		observability.AuthAttemptsTotal.WithLabelValues("token", "invalid").Inc()
		return models.User{}, err
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			observability.AuthAttemptsTotal.WithLabelValues("token", "invalid").Inc()
			return models.User{}, ErrInvalidToken
		}
		return models.User{}, fmt.Errorf("lookup user: %w", err)
	}
	observability.AuthAttemptsTotal.WithLabelValues("token", "success").Inc()
	return user, nil
}
