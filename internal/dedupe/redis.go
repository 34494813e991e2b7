package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix of the per-hash keys, e.g. "forensics:dedupe".
	Prefix string
}

// RedisTracker stores one hash per identity:
// <prefix>:<identity> -> {seen_count, pipeline, pipeline_version, first_seen_at, last_seen_at}.
type RedisTracker struct {
	client *redis.Client
	prefix string
}

func NewRedisTracker(ctx context.Context, opts RedisOptions) (*RedisTracker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "forensics:dedupe"
	}
	return &RedisTracker{client: client, prefix: prefix}, nil
}

func (t *RedisTracker) key(hash string) string {
	return t.prefix + ":" + hash
}

func (t *RedisTracker) Record(ctx context.Context, hash string, pipeline string, pipelineVersion int) (int, error) {
	key := t.key(hash)
	now := time.Now().UTC().Format(time.RFC3339)

	var incr *redis.IntCmd
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, "seen_count", 1)
		pipe.HSetNX(ctx, key, "first_seen_at", now)
		pipe.HSet(ctx, key,
			"last_seen_at", now,
			"pipeline", pipeline,
			"pipeline_version", pipelineVersion,
		)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record dedupe: %w", err)
	}
	return int(incr.Val()), nil
}

func (t *RedisTracker) SeenCount(ctx context.Context, hash string) (int, error) {
	n, err := t.client.HGet(ctx, t.key(hash), "seen_count").Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get seen count: %w", err)
	}
	return n, nil
}

func (t *RedisTracker) Close() error {
	return t.client.Close()
}
