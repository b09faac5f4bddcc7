package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/authgate/authgate/internal/models"
	"github.com/authgate/authgate/internal/repository"
	"github.com/sirupsen/logrus"
)

// SessionService orchestrates the login, refresh, logout, signup and
// password-reset flows. It is the only component that touches both
// the token codec and the refresh store; the authorization middleware
// deliberately sees the codec alone.
type SessionService struct {
	credentials *CredentialService
	tokens      *TokenService
	refresh     *repository.RefreshTokenRepository
	resets      *repository.ResetTokenRepository
	users       UserStore
	logger      *logrus.Logger
}

func NewSessionService(
	credentials *CredentialService,
	tokens *TokenService,
	refresh *repository.RefreshTokenRepository,
	resets *repository.ResetTokenRepository,
	users UserStore,
	logger *logrus.Logger,
) *SessionService {
	return &SessionService{
		credentials: credentials,
		tokens:      tokens,
		refresh:     refresh,
		resets:      resets,
		users:       users,
		logger:      logger,
	}
}

func (s *SessionService) pair(accessToken string, record *models.RefreshRecord) *models.TokenPair {
	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: record.TokenID,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessExpiry().Seconds()),
	}
}

// Login verifies the credentials and, on success, opens a new refresh
// chain and mints the first access token. A credential failure leaves
// no state behind.
func (s *SessionService) Login(ctx context.Context, email, password string) (*models.TokenPair, error) {
	user, err := s.credentials.Verify(ctx, email, password)
	if err != nil {
		return nil, err
	}

	record, err := s.refresh.Issue(ctx, user.Email)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.tokens.MintAccess(user.Email, user.Role)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("email", user.Email).Info("User logged in")
	return s.pair(accessToken, record), nil
}

// Refresh rotates the presented refresh token and mints a fresh
// access token for the bound identity. Reuse of an already-rotated
// token is treated as theft: the entire chain is revoked before the
// error surfaces, so the thief's successor dies along with it.
func (s *SessionService) Refresh(ctx context.Context, tokenID string) (*models.TokenPair, error) {
	record, err := s.refresh.Rotate(ctx, tokenID)
	if err != nil {
		if errors.Is(err, models.ErrRefreshReuse) {
			s.teardownChain(ctx, tokenID)
		}
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, record.Email)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			// Account deleted since login; the chain is dead.
			return nil, models.ErrRefreshNotFound
		}
		return nil, err
	}

	accessToken, err := s.tokens.MintAccess(user.Email, user.Role)
	if err != nil {
		return nil, err
	}

	return s.pair(accessToken, record), nil
}

func (s *SessionService) teardownChain(ctx context.Context, tokenID string) {
	record, err := s.refresh.Get(ctx, tokenID)
	if err != nil {
		s.logger.WithError(err).WithField("token_id", tokenID).
			Error("Replay detected but chain lookup failed")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"email":    record.Email,
		"chain_id": record.ChainID,
	}).Warn("Refresh token replay detected, revoking session chain")

	if err := s.refresh.RevokeChain(ctx, record.ChainID); err != nil {
		s.logger.WithError(err).Error("Failed to revoke session chain")
	}
}

// Logout revokes the refresh token. Idempotent: logging out twice, or
// with a token that never existed, is not an error.
func (s *SessionService) Logout(ctx context.Context, tokenID string) error {
	return s.refresh.Revoke(ctx, tokenID)
}

// RevokeUserSessions force-revokes every refresh record for an
// account. Exposed to operators through the admin surface.
func (s *SessionService) RevokeUserSessions(ctx context.Context, email string) error {
	return s.refresh.RevokeAllForEmail(ctx, models.NormalizeEmail(email))
}

// Signup creates a new account with the default role.
func (s *SessionService) Signup(ctx context.Context, email, password string) (*models.User, error) {
	hash, err := s.credentials.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        models.NormalizeEmail(email),
		PasswordHash: hash,
		Role:         models.RoleUser,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.WithField("email", user.Email).Info("User account created")
	return user, nil
}

// ForgotPassword mints a single-use reset token for a known account.
// Unknown emails succeed silently: the response must not reveal
// whether an account exists. Delivery belongs to the mail
// collaborator; here the token is only handed back (and logged at
// debug level for development).
func (s *SessionService) ForgotPassword(ctx context.Context, email string) (string, error) {
	_, err := s.users.GetByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return "", nil
		}
		return "", err
	}

	token, err := s.tokens.MintReset(email)
	if err != nil {
		return "", err
	}

	s.logger.WithFields(logrus.Fields{
		"email": models.NormalizeEmail(email),
		"token": token,
	}).Debug("Password reset token issued (logged for development)")

	return token, nil
}

// ResetPassword validates the reset token, installs the new password
// hash, and revokes every outstanding refresh record for the account.
// A password reset ends all active sessions.
func (s *SessionService) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.tokens.ParseReset(token)
	if err != nil {
		return err
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	first, err := s.resets.Consume(ctx, claims.ID, ttl)
	if err != nil {
		return err
	}
	if !first {
		return fmt.Errorf("%w: reset token already used", models.ErrTokenExpired)
	}

	hash, err := s.credentials.HashPassword(newPassword)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePasswordHash(ctx, claims.Email, hash); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return fmt.Errorf("%w: unknown subject", models.ErrTokenMalformed)
		}
		return err
	}

	if err := s.refresh.RevokeAllForEmail(ctx, claims.Email); err != nil {
		return err
	}

	s.logger.WithField("email", claims.Email).Info("Password reset, all sessions revoked")
	return nil
}
