package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials indicates the phone/PIN combination did not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service handles owner registration and credential checks.
type Service struct {
	repo Repository
}

// NewService builds an identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RegisterInput captures data required to register an owner.
type RegisterInput struct {
	Phone string
	Name  string
	PIN   string
}

// Register provisions an ACTIVE owner account. Wallets are not created here:
// the transaction engine creates them lazily on first mutation.
func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	if input.Phone == "" {
		return User{}, fmt.Errorf("phone is required")
	}
	if len(input.PIN) < 4 {
		return User{}, fmt.Errorf("pin must be at least 4 digits")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.PIN), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash pin: %w", err)
	}

	user := User{
		ID:        uuid.NewString(),
		Phone:     input.Phone,
		Name:      input.Name,
		Status:    StatusActive,
		PINHash:   hash,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	return user, nil
}

// Authenticate verifies credentials and returns the matching owner.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	user, err := s.repo.FindByPhone(ctx, creds.Phone)
	if err != nil {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(user.PINHash, []byte(creds.PIN)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if user.Status == StatusClosed {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// SetStatus transitions an owner's account status.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) error {
	return s.repo.UpdateStatus(ctx, id, status)
}
