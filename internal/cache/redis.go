package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/elonfeng/storyradar/pkg/engagement"
)

// Redis caches baselines as JSON values with a TTL. Read failures are logged
// and fall through to computing the baseline.
type Redis struct {
	client *redis.Client
	group  singleflight.Group
	log    zerolog.Logger
}

var _ engagement.BaselineCache = (*Redis)(nil)

// Dial connects to the Redis server at url (redis://host:port/db).
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedis wraps a connected client.
func NewRedis(client *redis.Client, log zerolog.Logger) *Redis {
	return &Redis{client: client, log: log.With().Str("component", "cache").Logger()}
}

func (r *Redis) GetOrCompute(ctx context.Context, region, category string, ttl time.Duration,
	compute func(context.Context) (engagement.Baseline, error)) (engagement.Baseline, error) {
	key := Key(region, category)

	raw, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var b engagement.Baseline
		if jerr := json.Unmarshal(raw, &b); jerr == nil {
			return b, nil
		}
		r.log.Warn().Str("key", key).Msg("discarding undecodable baseline")
	case !errors.Is(err, redis.Nil):
		r.log.Warn().Err(err).Str("key", key).Msg("redis read failed")
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		b, err := compute(ctx)
		if err != nil {
			return engagement.Baseline{}, err
		}
		data, err := json.Marshal(b)
		if err != nil {
			return engagement.Baseline{}, fmt.Errorf("encode baseline: %w", err)
		}
		if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("redis write failed")
		}
		return b, nil
	})
	if err != nil {
		return engagement.Baseline{}, err
	}
	return v.(engagement.Baseline), nil
}

func (r *Redis) Invalidate(ctx context.Context, region, category string) error {
	if err := r.client.Del(ctx, Key(region, category)).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", Key(region, category), err)
	}
	return nil
}
