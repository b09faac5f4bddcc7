package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/models"
	"github.com/authgate/authgate/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type sessionFixture struct {
	sessions *SessionService
	tokens   *TokenService
	refresh  *repository.RefreshTokenRepository
	users    *memoryUserStore
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	logger := testLogger()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	refreshRepo := repository.NewRefreshTokenRepository(client, 30*24*time.Hour, logger)
	resetRepo := repository.NewResetTokenRepository(client, logger)

	tokens, err := NewTokenService(&config.JWTConfig{
		SecretKey:    "0123456789abcdef0123456789abcdef",
		AccessExpiry: 15 * time.Minute,
		ResetExpiry:  30 * time.Minute,
	}, logger)
	require.NoError(t, err)

	users := newMemoryUserStore()
	credentials, err := NewCredentialService(users, logger)
	require.NoError(t, err)

	return &sessionFixture{
		sessions: NewSessionService(credentials, tokens, refreshRepo, resetRepo, users, logger),
		tokens:   tokens,
		refresh:  refreshRepo,
		users:    users,
	}
}

func TestLoginIssuesTokenPair(t *testing.T) {
	f := newSessionFixture(t)
	f.users.addUser(t, "a@x.com", "p@ssw0rd!", models.RoleUser, bcrypt.MinCost)
	ctx := context.Background()

	pair, err := f.sessions.Login(ctx, "a@x.com", "p@ssw0rd!")
	require.NoError(t, err)

	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	claims, err := f.tokens.ParseAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, models.RoleUser, claims.Role)

	record, err := f.refresh.Get(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.False(t, record.Revoked)
}

func TestLoginFailureLeavesNoState(t *testing.T) {
	f := newSessionFixture(t)
	f.users.addUser(t, "a@x.com", "p@ssw0rd!", models.RoleUser, bcrypt.MinCost)
	ctx := context.Background()

	_, err := f.sessions.Login(ctx, "a@x.com", "wrong")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	require.NoError(t, f.refresh.RevokeAllForEmail(ctx, "a@x.com"))
}

func TestRefreshRotatesAndMints(t *testing.T) {
	f := newSessionFixture(t)
	f.users.addUser(t, "a@x.com", "p@ssw0rd!", models.RoleAdmin, bcrypt.MinCost)
	ctx := context.Background()

	first, err := f.sessions.Login(ctx, "a@x.com", "p@ssw0rd!")
	require.NoError(t, err)

	second, err := f.sessions.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	claims, err := f.tokens.ParseAccess(second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	old, err := f.refresh.Get(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	assert.Equal(t, second.RefreshToken, old.ReplacedBy)
}

func TestRefreshReplayTearsDownChain(t *testing.T) {
	f := newSessionFixture(t)
	f.users.addUser(t, "a@x.com", "p@ssw0rd!", models.RoleUser, bcrypt.MinCost)
	ctx := context.Background()

	t1, err := f.sessions.Login(ctx, "a@x.com", "p@ssw0rd!")
	require.NoError(t, err)

	t2, err := f.sessions.Refresh(ctx, t1.RefreshToken)
	require.NoError(t, err)

	// Replaying the rotated token is the theft signal.
	_, err = f.sessions.Refresh(ctx, t1.RefreshToken)
	assert.ErrorIs(t, err, models.ErrRefreshReuse)

	// The successor dies with the chain.
	successor, err := f.refresh.Get(ctx, t2.RefreshToken)
	require.NoError(t, err)
	assert.True(t, successor.Revoked)

	_, err = f.sessions.Refresh(ctx, t2.RefreshToken)
	assert.ErrorIs(t, err, models.ErrRefreshReuse)
}

func TestRefreshUnknownTokenChangesNothing(t *testing.T) {
	f := newSessionFixture(t)
	f.users.addUser(t, "a@x.com", "p@ssw0rd!", models.RoleUser, bcrypt.MinCost)
	ctx := context.Background()

	pair, err := f.sessions.Login(ctx, "a@x.com", "p@ssw0rd!")
	require.NoError(t, err)

	_, err = f.sessions.Refresh(ctx, "no-such-token")
	assert.ErrorIs(t, err, models.ErrRefreshNotFound)

	record, err := f.refresh.Get(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.False(t, record.Revoked)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newSessionFixture(t)
	f.users.addUser(t, "a@x.com", "p@ssw0rd!", models.RoleUser, bcrypt.MinCost)
	ctx := context.Background()

	pair, err := f.sessions.Login(ctx, "a@x.com", "p@ssw0rd!")
	require.NoError(t, err)

	require.NoError(t, f.sessions.Logout(ctx, pair.RefreshToken))
	require.NoError(t, f.sessions.Logout(ctx, pair.RefreshToken))
	require.NoError(t, f.sessions.Logout(ctx, "never-existed"))

	// A logged-out token is revoked without a successor; presenting
	// it to refresh reads as reuse.
	_, err = f.sessions.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, models.ErrRefreshReuse)
}

func TestSignupCreatesUserWithDefaultRole(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	user, err := f.sessions.Signup(ctx, "New@X.com", "p@ssw0rd!")
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", user.Email)
	assert.Equal(t, models.RoleUser, user.Role)

	_, err = f.sessions.Signup(ctx, "new@x.com", "p@ssw0rd!")
	assert.ErrorIs(t, err, models.ErrUserExists)

	_, err = f.sessions.Login(ctx, "new@x.com", "p@ssw0rd!")
	assert.NoError(t, err)
}

func TestForgotPasswordUnknownEmailSucceedsSilently(t *testing.T) {
	f := newSessionFixture(t)

	token, err := f.sessions.ForgotPassword(context.Background(), "ghost@x.com")
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestResetPasswordRevokesAllSessions(t *testing.T) {
	f := newSessionFixture(t)
	f.users.addUser(t, "a@x.com", "old-password", models.RoleUser, bcrypt.MinCost)
	ctx := context.Background()

	laptop, err := f.sessions.Login(ctx, "a@x.com", "old-password")
	require.NoError(t, err)
	phone, err := f.sessions.Login(ctx, "a@x.com", "old-password")
	require.NoError(t, err)

	reset, err := f.sessions.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotEmpty(t, reset)

	require.NoError(t, f.sessions.ResetPassword(ctx, reset, "new-password!"))

	// Old credential no longer works, new one does.
	_, err = f.sessions.Login(ctx, "a@x.com", "old-password")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	_, err = f.sessions.Login(ctx, "a@x.com", "new-password!")
	assert.NoError(t, err)

	// Every pre-reset refresh token is dead.
	for _, pair := range []*models.TokenPair{laptop, phone} {
		_, err = f.sessions.Refresh(ctx, pair.RefreshToken)
		assert.Error(t, err)
	}
}

func TestResetTokenIsSingleUse(t *testing.T) {
	f := newSessionFixture(t)
	f.users.addUser(t, "a@x.com", "old-password", models.RoleUser, bcrypt.MinCost)
	ctx := context.Background()

	reset, err := f.sessions.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)

	require.NoError(t, f.sessions.ResetPassword(ctx, reset, "first-new-pw"))

	err = f.sessions.ResetPassword(ctx, reset, "second-new-pw")
	require.Error(t, err)

	_, err = f.sessions.Login(ctx, "a@x.com", "first-new-pw")
	assert.NoError(t, err)
}

func TestResetPasswordRejectsAccessToken(t *testing.T) {
	f := newSessionFixture(t)
	f.users.addUser(t, "a@x.com", "p@ssw0rd!", models.RoleUser, bcrypt.MinCost)
	ctx := context.Background()

	pair, err := f.sessions.Login(ctx, "a@x.com", "p@ssw0rd!")
	require.NoError(t, err)

	err = f.sessions.ResetPassword(ctx, pair.AccessToken, "new-password!")
	assert.ErrorIs(t, err, models.ErrTokenMalformed)
}

func TestRevokeUserSessionsForcesLogout(t *testing.T) {
	f := newSessionFixture(t)
	f.users.addUser(t, "a@x.com", "p@ssw0rd!", models.RoleUser, bcrypt.MinCost)
	ctx := context.Background()

	pair, err := f.sessions.Login(ctx, "a@x.com", "p@ssw0rd!")
	require.NoError(t, err)

	require.NoError(t, f.sessions.RevokeUserSessions(ctx, "A@X.com"))

	_, err = f.sessions.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, models.ErrRefreshReuse)
}
