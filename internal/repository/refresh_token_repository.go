package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/authgate/authgate/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RefreshTokenRepository keeps refresh records in Redis. Records live
// under refresh:token:<id>; two index sets, refresh:chain:<chain> and
// refresh:user:<email>, track the rotation chain and the user's
// outstanding tokens so chain-wide and user-wide revocation never
// need a keyspace scan. Every key carries a TTL at the retention
// horizon, which doubles as garbage collection.
type RefreshTokenRepository struct {
	client    *redis.Client
	retention time.Duration
	logger    *logrus.Logger
}

func NewRefreshTokenRepository(client *redis.Client, retention time.Duration, logger *logrus.Logger) *RefreshTokenRepository {
	return &RefreshTokenRepository{
		client:    client,
		retention: retention,
		logger:    logger,
	}
}

func tokenKey(tokenID string) string {
	return "refresh:token:" + tokenID
}

func chainKey(chainID string) string {
	return "refresh:chain:" + chainID
}

func userKey(email string) string {
	return "refresh:user:" + models.NormalizeEmail(email)
}

// Issue creates a fresh record at the head of a brand-new chain.
func (r *RefreshTokenRepository) Issue(ctx context.Context, email string) (*models.RefreshRecord, error) {
	now := time.Now()
	record := &models.RefreshRecord{
		TokenID:   uuid.New().String(),
		Email:     models.NormalizeEmail(email),
		ChainID:   uuid.New().String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(r.retention),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refresh record: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tokenKey(record.TokenID), data, r.retention)
		pipe.SAdd(ctx, chainKey(record.ChainID), record.TokenID)
		pipe.Expire(ctx, chainKey(record.ChainID), r.retention)
		pipe.SAdd(ctx, userKey(record.Email), record.TokenID)
		pipe.Expire(ctx, userKey(record.Email), r.retention)
		return nil
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store refresh record")
		return nil, storeErr("issue refresh token", err)
	}

	return record, nil
}

// Rotate atomically retires the presented record and issues its
// successor in the same chain. At most one concurrent caller wins;
// everyone else observes the record as already revoked. A revoked
// record presented here is the replay signal and comes back as
// models.ErrRefreshReuse.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, tokenID string) (*models.RefreshRecord, error) {
	key := tokenKey(tokenID)
	var successor *models.RefreshRecord

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return models.ErrRefreshNotFound
		}
		if err != nil {
			return storeErr("load refresh token", err)
		}

		var record models.RefreshRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return fmt.Errorf("failed to unmarshal refresh record: %w", err)
		}

		if record.Revoked {
			return models.ErrRefreshReuse
		}

		now := time.Now()
		next := &models.RefreshRecord{
			TokenID:   uuid.New().String(),
			Email:     record.Email,
			ChainID:   record.ChainID,
			IssuedAt:  now,
			ExpiresAt: now.Add(r.retention),
		}
		record.Revoked = true
		record.ReplacedBy = next.TokenID

		oldData, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("failed to marshal refresh record: %w", err)
		}
		newData, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal refresh record: %w", err)
		}

		// MULTI/EXEC aborts if the watched key changed, so only one
		// rotation can commit against this record.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, oldData, time.Until(record.ExpiresAt))
			pipe.Set(ctx, tokenKey(next.TokenID), newData, r.retention)
			pipe.SAdd(ctx, chainKey(next.ChainID), next.TokenID)
			pipe.Expire(ctx, chainKey(next.ChainID), r.retention)
			pipe.SAdd(ctx, userKey(next.Email), next.TokenID)
			pipe.Expire(ctx, userKey(next.Email), r.retention)
			return nil
		})
		if err != nil {
			return err
		}

		successor = next
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// Lost the race: a concurrent rotation or revocation already
		// retired this record.
		return nil, models.ErrRefreshReuse
	}
	if err != nil {
		return nil, err
	}

	return successor, nil
}

// Revoke marks a record revoked without a successor. Idempotent:
// unknown and already-revoked tokens are no-ops.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenID string) error {
	revoked, err := r.revokeRecord(ctx, tokenID)
	if err != nil {
		return err
	}
	if revoked {
		r.logger.WithField("token_id", tokenID).Debug("Refresh token revoked")
	}
	return nil
}

// RevokeChain tears down every record in a rotation chain. Called
// when replay is detected: the stolen token's whole lineage, current
// head included, must die.
func (r *RefreshTokenRepository) RevokeChain(ctx context.Context, chainID string) error {
	ids, err := r.client.SMembers(ctx, chainKey(chainID)).Result()
	if err != nil {
		r.logger.WithError(err).Error("Failed to load refresh chain members")
		return storeErr("load refresh chain", err)
	}

	for _, id := range ids {
		if _, err := r.revokeRecord(ctx, id); err != nil {
			return err
		}
	}

	r.logger.WithFields(logrus.Fields{
		"chain_id": chainID,
		"records":  len(ids),
	}).Warn("Refresh chain revoked")
	return nil
}

// RevokeAllForEmail revokes every outstanding record for a user, from
// any chain. Used on password reset.
func (r *RefreshTokenRepository) RevokeAllForEmail(ctx context.Context, email string) error {
	ids, err := r.client.SMembers(ctx, userKey(email)).Result()
	if err != nil {
		r.logger.WithError(err).Error("Failed to load user refresh tokens")
		return storeErr("load user refresh tokens", err)
	}

	for _, id := range ids {
		if _, err := r.revokeRecord(ctx, id); err != nil {
			return err
		}
	}

	return nil
}

// Get returns the stored record for a token id.
func (r *RefreshTokenRepository) Get(ctx context.Context, tokenID string) (*models.RefreshRecord, error) {
	data, err := r.client.Get(ctx, tokenKey(tokenID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrRefreshNotFound
	}
	if err != nil {
		return nil, storeErr("load refresh token", err)
	}

	var record models.RefreshRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh record: %w", err)
	}

	return &record, nil
}

func (r *RefreshTokenRepository) revokeRecord(ctx context.Context, tokenID string) (bool, error) {
	key := tokenKey(tokenID)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return storeErr("load refresh token", err)
		}

		var record models.RefreshRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return fmt.Errorf("failed to unmarshal refresh record: %w", err)
		}
		if record.Revoked {
			return nil
		}
		record.Revoked = true

		updated, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("failed to marshal refresh record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, time.Until(record.ExpiresAt))
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// Someone else mutated the record first; whichever way, the
		// presented token is no longer usable.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
