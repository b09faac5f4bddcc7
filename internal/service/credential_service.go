package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/authgate/authgate/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the user-database collaborator the auth core consumes.
// Implemented by repository.UserRepository.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdatePasswordHash(ctx context.Context, email, passwordHash string) error
}

// CredentialService checks submitted email/password pairs against the
// stored bcrypt hashes.
type CredentialService struct {
	users  UserStore
	logger *logrus.Logger

	// dummyHash is compared against on the unknown-email path so that
	// path costs one bcrypt verification too. Unknown email and wrong
	// password must be indistinguishable, in error and in latency.
	dummyHash []byte
}

func NewCredentialService(users UserStore, logger *logrus.Logger) (*CredentialService, error) {
	dummyHash, err := bcrypt.GenerateFromPassword([]byte("authgate-dummy-credential"), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}

	return &CredentialService{
		users:     users,
		logger:    logger,
		dummyHash: dummyHash,
	}, nil
}

// Verify returns the stored identity when the pair matches, and
// models.ErrInvalidCredentials otherwise. Store outages are reported
// as such, never disguised as a credential failure.
func (s *CredentialService) Verify(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			// Burn the same KDF work as the known-email path.
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, models.ErrInvalidCredentials
	}

	return user, nil
}

// HashPassword derives the stored hash for a new password.
func (s *CredentialService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
