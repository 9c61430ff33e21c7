package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/council/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const latestSnapshotKey = "council:snapshot:latest"

// SnapshotStore implements SnapshotStore using Redis
type SnapshotStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewSnapshotStore creates a new Redis snapshot store
func NewSnapshotStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SnapshotStore {
	return &SnapshotStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveLatest stores snapshot as the latest one, with TTL
func (s *SnapshotStore) SaveLatest(ctx context.Context, snapshot json.RawMessage) error {
	if err := s.client.Set(ctx, latestSnapshotKey, []byte(snapshot), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.logger.Debug("snapshot saved",
		zap.String("key", latestSnapshotKey),
		zap.Int("bytes", len(snapshot)))

	return nil
}

// LoadLatest retrieves the latest snapshot
func (s *SnapshotStore) LoadLatest(ctx context.Context) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, latestSnapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ports.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return json.RawMessage(data), nil
}
