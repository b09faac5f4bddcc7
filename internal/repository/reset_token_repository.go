package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ResetTokenRepository enforces single use of password-reset tokens.
// The token itself is a signed JWT; this store only remembers which
// JTIs have already been spent, for as long as the token could still
// be alive.
type ResetTokenRepository struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewResetTokenRepository(client *redis.Client, logger *logrus.Logger) *ResetTokenRepository {
	return &ResetTokenRepository{
		client: client,
		logger: logger,
	}
}

// Consume records the JTI as spent. Returns true on first use; a
// second presentation of the same token returns false. SETNX makes
// the first-use decision atomic across concurrent callers.
func (r *ResetTokenRepository) Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}

	first, err := r.client.SetNX(ctx, "reset:used:"+jti, "1", ttl).Result()
	if err != nil {
		r.logger.WithError(err).Error("Failed to mark reset token as used")
		return false, storeErr("consume reset token", err)
	}
	return first, nil
}
