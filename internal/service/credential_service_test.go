package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/authgate/authgate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memoryUserStore is an in-memory UserStore for tests.
type memoryUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User
	err   error
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{users: make(map[string]*models.User)}
}

func (s *memoryUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	user, ok := s.users[models.NormalizeEmail(email)]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *memoryUserStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	key := models.NormalizeEmail(user.Email)
	if _, ok := s.users[key]; ok {
		return models.ErrUserExists
	}
	copied := *user
	copied.Email = key
	s.users[key] = &copied
	return nil
}

func (s *memoryUserStore) UpdatePasswordHash(ctx context.Context, email, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	user, ok := s.users[models.NormalizeEmail(email)]
	if !ok {
		return models.ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (s *memoryUserStore) addUser(t *testing.T, email, password string, role models.Role, cost int) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), &models.User{
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	}))
}

func TestVerifyValidCredentials(t *testing.T) {
	store := newMemoryUserStore()
	store.addUser(t, "alice@example.com", "correct horse", models.RoleAdmin, bcrypt.MinCost)

	svc, err := NewCredentialService(store, testLogger())
	require.NoError(t, err)

	user, err := svc.Verify(context.Background(), "Alice@Example.COM", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, models.RoleAdmin, user.Role)
}

func TestVerifyFailuresAreUniform(t *testing.T) {
	store := newMemoryUserStore()
	store.addUser(t, "alice@example.com", "correct horse", models.RoleUser, bcrypt.MinCost)

	svc, err := NewCredentialService(store, testLogger())
	require.NoError(t, err)

	_, wrongPassword := svc.Verify(context.Background(), "alice@example.com", "wrong")
	_, unknownEmail := svc.Verify(context.Background(), "nobody@example.com", "wrong")

	// Same sentinel, same message: the two cases must be
	// indistinguishable to a caller.
	assert.ErrorIs(t, wrongPassword, models.ErrInvalidCredentials)
	assert.ErrorIs(t, unknownEmail, models.ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestVerifyFailureLatencyIsComparable(t *testing.T) {
	if testing.Short() {
		t.Skip("bcrypt timing comparison is slow")
	}

	store := newMemoryUserStore()
	store.addUser(t, "alice@example.com", "correct horse", models.RoleUser, bcrypt.DefaultCost)

	svc, err := NewCredentialService(store, testLogger())
	require.NoError(t, err)

	measure := func(email string) time.Duration {
		const rounds = 4
		var total time.Duration
		for i := 0; i < rounds; i++ {
			start := time.Now()
			_, _ = svc.Verify(context.Background(), email, "wrong")
			total += time.Since(start)
		}
		return total / rounds
	}

	known := measure("alice@example.com")
	unknown := measure("nobody@example.com")

	// Both paths run one bcrypt comparison, so neither should run an
	// order of magnitude faster than the other.
	slower, faster := known, unknown
	if faster > slower {
		slower, faster = faster, slower
	}
	assert.Less(t, float64(slower)/float64(faster), 3.0,
		"known=%v unknown=%v", known, unknown)
}

func TestVerifyStoreOutageIsNotACredentialFailure(t *testing.T) {
	store := newMemoryUserStore()
	store.err = fmt.Errorf("dial timeout: %w", models.ErrStoreUnavailable)

	svc, err := NewCredentialService(store, testLogger())
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), "alice@example.com", "pw")
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestHashPasswordVerifiesWithBcrypt(t *testing.T) {
	svc, err := NewCredentialService(newMemoryUserStore(), testLogger())
	require.NoError(t, err)

	hash, err := svc.HashPassword("s3cret-enough")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret-enough")))
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("other")))
}
