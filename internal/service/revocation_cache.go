package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RevocationCache keeps revoked refresh-token ids in Redis until the
// token would have expired anyway.
type RevocationCache struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRevocationCache(client *redis.Client, logger *logrus.Logger) *RevocationCache {
	return &RevocationCache{
		client: client,
		logger: logger,
	}
}

func revokedKey(jti string) string {
	return fmt.Sprintf("revoked_token:%s", jti)
}

func (c *RevocationCache) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		// already expired, nothing left to guard
		return nil
	}

	if err := c.client.Set(ctx, revokedKey(jti), "1", ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("jti", jti).Error("Failed to cache revoked token")
		return fmt.Errorf("failed to cache revoked token: %w", err)
	}
	return nil
}

func (c *RevocationCache) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := c.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return exists > 0, nil
}
