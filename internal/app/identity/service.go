package identity

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/nats-io/nuid"
	"github.com/todo-1m/board/internal/contracts"
	"github.com/todo-1m/board/internal/platform/auth"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidEmail       = errors.New("a valid email is required")
	ErrInvalidPassword    = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type AuthResponse struct {
	Token string         `json:"token"`
	User  contracts.User `json:"user"`
}

type Service struct {
	Repo      Repository
	AuthToken auth.Manager
	NewID     func() string
}

func NewService(repo Repository, tokenManager auth.Manager) *Service {
	return &Service{
		Repo:      repo,
		AuthToken: tokenManager,
		NewID:     nuid.Next,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	if _, err := mail.ParseAddress(normalizeEmail(email)); err != nil {
		return ErrInvalidEmail
	}
	if len(strings.TrimSpace(password)) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

func (s *Service) Register(ctx context.Context, email, password string) (AuthResponse, error) {
	if err := validateCredentials(email, password); err != nil {
		return AuthResponse{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResponse{}, err
	}
	u := User{
		ID:           s.NewID(),
		Email:        normalizeEmail(email),
		PasswordHash: string(hash),
	}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		return AuthResponse{}, err
	}
	return s.issue(u)
}

func (s *Service) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	addr := normalizeEmail(email)
	if addr == "" || strings.TrimSpace(password) == "" {
		return AuthResponse{}, ErrInvalidCredentials
	}

	u, err := s.Repo.FindUserByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidCredentials
		}
		return AuthResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	return s.issue(u)
}

// Authenticate verifies a session token and returns its user.
func (s *Service) Authenticate(ctx context.Context, token string) (contracts.User, error) {
	claims, err := s.AuthToken.Parse(token)
	if err != nil {
		return contracts.User{}, err
	}
	u, err := s.Repo.FindUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return contracts.User{}, auth.ErrInvalidToken
		}
		return contracts.User{}, err
	}
	return contracts.User{ID: u.ID, Email: u.Email}, nil
}

// Directory lists every user as an assignee candidate, ordered by email.
func (s *Service) Directory(ctx context.Context) ([]contracts.User, error) {
	users, err := s.Repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]contracts.User, 0, len(users))
	for _, u := range users {
		out = append(out, contracts.User{ID: u.ID, Email: u.Email})
	}
	return out, nil
}

func (s *Service) issue(u User) (AuthResponse, error) {
	token, err := s.AuthToken.Sign(u.ID, u.Email)
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{Token: token, User: contracts.User{ID: u.ID, Email: u.Email}}, nil
}
