package flags

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// hashKey holds every flag as one field, so a listing is a single HGETALL
const hashKey = "detector-flags"

// Store keeps detector flags in Redis so every analyzer instance and
// privacyctl see the same switches.
type Store struct {
	client redis.Cmdable
}

func NewStore(client redis.Cmdable) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &Store{client: client}, nil
}

// Upsert sets the flag for key, which must parse with ParseKey.
func (s *Store) Upsert(ctx context.Context, key string, enabled bool) (*Flag, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	flag := &Flag{Key: key, Enabled: enabled, UpdatedAt: time.Now().UTC()}
	b, err := json.Marshal(flag)
	if err != nil {
		return nil, fmt.Errorf("marshal flag %s: %w", key, err)
	}
	if err := s.client.HSet(ctx, hashKey, key, b).Err(); err != nil {
		return nil, fmt.Errorf("store flag %s: %w", key, err)
	}
	return flag, nil
}

func (s *Store) Get(ctx context.Context, key string) (*Flag, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	raw, err := s.client.HGet(ctx, hashKey, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flag %s: %w", key, err)
	}

	var f Flag
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode flag %s: %w", key, err)
	}
	return &f, nil
}

// List returns every stored flag ordered by key. Fields that no longer
// parse, or whose value is unreadable, are left out.
func (s *Store) List(ctx context.Context) ([]*Flag, error) {
	fields, err := s.client.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}

	out := make([]*Flag, 0, len(fields))
	for key, raw := range fields {
		if ValidateKey(key) != nil {
			continue
		}
		var f Flag
		if err := json.Unmarshal([]byte(raw), &f); err != nil || f.Key != key {
			continue
		}
		out = append(out, &f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes the flag for key. Removing a missing flag is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.client.HDel(ctx, hashKey, key).Err(); err != nil {
		return fmt.Errorf("delete flag %s: %w", key, err)
	}
	return nil
}
