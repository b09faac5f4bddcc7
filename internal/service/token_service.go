package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	tokenTypeAccess = "access"
	tokenTypeReset  = "reset"
)

// Claims is the payload carried inside signed tokens. Type separates
// access tokens from password-reset tokens; the parser for one never
// accepts the other.
type Claims struct {
	Email string      `json:"email"`
	Role  models.Role `json:"role,omitempty"`
	Type  string      `json:"type"`
	jwt.RegisteredClaims
}

// TokenService mints and parses signed tokens. It is pure and
// stateless: validity is signature plus expiry, no store lookups.
type TokenService struct {
	secretKey    []byte
	accessExpiry time.Duration
	resetExpiry  time.Duration
	leeway       time.Duration
	logger       *logrus.Logger

	// now is swappable in tests to pin boundary behavior.
	now func() time.Time
}

func NewTokenService(cfg *config.JWTConfig, logger *logrus.Logger) (*TokenService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	return &TokenService{
		secretKey:    secretKey,
		accessExpiry: cfg.AccessExpiry,
		resetExpiry:  cfg.ResetExpiry,
		leeway:       cfg.Leeway,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// AccessExpiry reports the configured access-token lifetime.
func (s *TokenService) AccessExpiry() time.Duration {
	return s.accessExpiry
}

// MintAccess signs a short-lived access token for the given identity.
func (s *TokenService) MintAccess(email string, role models.Role) (string, error) {
	return s.mint(email, role, tokenTypeAccess, s.accessExpiry)
}

// MintReset signs a short-lived password-reset token. It shares the
// signing key with access tokens but carries a distinct type, so a
// reset token presented as a bearer credential is rejected.
func (s *TokenService) MintReset(email string) (string, error) {
	return s.mint(email, "", tokenTypeReset, s.resetExpiry)
}

func (s *TokenService) mint(email string, role models.Role, tokenType string, expiry time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		Email: models.NormalizeEmail(email),
		Role:  role,
		Type:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   models.NormalizeEmail(email),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign token")
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// ParseAccess verifies and decodes an access token. Signature is
// checked before any claim is trusted; expiry is exclusive at the
// boundary (a token is dead the second it says it expires), widened
// only by the configured leeway.
func (s *TokenService) ParseAccess(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.Type != tokenTypeAccess {
		return nil, fmt.Errorf("%w: not an access token", models.ErrTokenMalformed)
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role", models.ErrTokenMalformed)
	}

	return claims, nil
}

// ParseReset verifies and decodes a password-reset token.
func (s *TokenService) ParseReset(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.Type != tokenTypeReset {
		return nil, fmt.Errorf("%w: not a reset token", models.ErrTokenMalformed)
	}

	return claims, nil
}

func (s *TokenService) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secretKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %w", models.ErrTokenExpired, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: %w", models.ErrTokenSignature, err)
		default:
			return nil, fmt.Errorf("%w: %w", models.ErrTokenMalformed, err)
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, models.ErrTokenMalformed
	}

	return claims, nil
}
