package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aircode610/ShipSure/internal/analysis"
)

const (
	jobKeyPrefix  = "shipsure:job:"
	defaultJobTTL = 24 * time.Hour
)

// RedisJobRegistry is a Redis-backed job registry, letting several
// analyzer instances serve status reads for the same job.
type RedisJobRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisJobRegistry creates a registry on the given Redis client.
func NewRedisJobRegistry(client *redis.Client, ttl time.Duration) *RedisJobRegistry {
	if ttl <= 0 {
		ttl = defaultJobTTL
	}
	return &RedisJobRegistry{client: client, ttl: ttl}
}

// Put stores the job snapshot.
func (r *RedisJobRegistry) Put(ctx context.Context, snapshot *analysis.JobSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal job snapshot: %w", err)
	}

	key := jobKeyPrefix + snapshot.ID
	if setErr := r.client.Set(ctx, key, data, r.ttl).Err(); setErr != nil {
		return fmt.Errorf("set job key: %w", setErr)
	}
	return nil
}

// Get loads the job snapshot, or ErrJobNotFound.
func (r *RedisJobRegistry) Get(ctx context.Context, id string) (*analysis.JobSnapshot, error) {
	data, err := r.client.Get(ctx, jobKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, analysis.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job key: %w", err)
	}

	var snapshot analysis.JobSnapshot
	if unmarshalErr := json.Unmarshal(data, &snapshot); unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal job snapshot: %w", unmarshalErr)
	}
	return &snapshot, nil
}
