package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/constants"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/storage"
)

var _ storage.MatchCache = (*RedisMatchCache)(nil)

// RedisMatchCache keeps a capped list of recent matches and fans every new
// match out over Pub/Sub
type RedisMatchCache struct {
	client    *redis.Client
	maxRecent int64
	logger    *logrus.Logger
}

// RedisConfig holds configuration for the Redis match cache
type RedisConfig struct {
	Addr      string
	DB        int
	MaxRecent int64
	Logger    *logrus.Logger
}

func NewRedisMatchCache(cfg RedisConfig) *RedisMatchCache {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.MaxRecent <= 0 {
		cfg.MaxRecent = constants.MaxRecentMatches
	}

	return &RedisMatchCache{
		client: redis.NewClient(&redis.Options{
			Addr: cfg.Addr,
			DB:   cfg.DB,
		}),
		maxRecent: cfg.MaxRecent,
		logger:    cfg.Logger,
	}
}

// NewRedisMatchCacheFromClient wraps an existing connection
func NewRedisMatchCacheFromClient(client *redis.Client, maxRecent int64, logger *logrus.Logger) *RedisMatchCache {
	if logger == nil {
		logger = logrus.New()
	}
	if maxRecent <= 0 {
		maxRecent = constants.MaxRecentMatches
	}
	return &RedisMatchCache{client: client, maxRecent: maxRecent, logger: logger}
}

// Client exposes the underlying connection for components sharing it
func (r *RedisMatchCache) Client() *redis.Client {
	return r.client
}

func (r *RedisMatchCache) Name() string { return "redis" }

// WriteMatch stores the match in the recent list and publishes it to the
// all/protocol/type channels in one pipeline
func (r *RedisMatchCache) WriteMatch(ctx context.Context, match *models.Match) error {
	data, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.LPush(ctx, constants.RedisKeyRecentMatches, data)
	pipe.LTrim(ctx, constants.RedisKeyRecentMatches, 0, r.maxRecent-1)
	for _, channel := range MatchChannels(match) {
		pipe.Publish(ctx, channel, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write match: %w", err)
	}
	return nil
}

// RecentMatches returns up to limit matches, newest first
func (r *RedisMatchCache) RecentMatches(ctx context.Context, limit int64) ([]*models.Match, error) {
	if limit <= 0 {
		return []*models.Match{}, nil
	}

	vals, err := r.client.LRange(ctx, constants.RedisKeyRecentMatches, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("get recent matches: %w", err)
	}

	out := make([]*models.Match, 0, len(vals))
	for _, v := range vals {
		var m models.Match
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			r.logger.WithError(err).Warn("skipping unreadable cached match")
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}

func (r *RedisMatchCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisMatchCache) Close() error {
	return r.client.Close()
}

// MatchChannels lists the Pub/Sub channels a match is published to
func MatchChannels(match *models.Match) []string {
	return []string{
		constants.PubSubChannelMatches,                              // All matches
		constants.PubSubChannelProtocolPrefix + match.Protocol,      // Protocol-specific
		constants.PubSubChannelMatchTypePrefix + string(match.Type), // Detector-specific
	}
}
