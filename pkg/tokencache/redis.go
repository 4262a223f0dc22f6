package tokencache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/rueidis"
)

// RedisStore persists the cache entry under a single Redis key via rueidis.
// Suitable when several relay instances share one mailbox credential.
type RedisStore struct {
	client rueidis.Client
	key    string
}

// RedisOptions contains configuration for the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore creates a RedisStore using an existing rueidis client.
// The key names the credential/scope-set this cache belongs to.
func NewRedisStore(client rueidis.Client, key string) *RedisStore {
	return &RedisStore{
		client: client,
		key:    key,
	}
}

// NewRedisStoreFromOptions creates a RedisStore with simplified options.
func NewRedisStoreFromOptions(opts RedisOptions, key string) (*RedisStore, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client, key), nil
}

// Close closes the Redis client connection.
func (r *RedisStore) Close() {
	r.client.Close()
}

// Exists reports whether the cache key is present.
func (r *RedisStore) Exists(ctx context.Context) (bool, error) {
	cmd := r.client.B().Exists().Key(r.key).Build()
	n, err := r.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to check token cache key %s: %w", r.key, err)
	}
	return n > 0, nil
}

// Read fetches and decodes the cache entry, clearing the relative expiry.
func (r *RedisStore) Read(ctx context.Context) (*Data, error) {
	cmd := r.client.B().Get().Key(r.key).Build()
	raw, err := r.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("failed to read token cache key %s: %w", r.key, err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to deserialize token cache key %s: %w", r.key, err)
	}
	data.clearRelativeExpiry()
	return &data, nil
}

// Write replaces the cache entry under the key.
func (r *RedisStore) Write(ctx context.Context, data *Data) error {
	if data == nil {
		return ErrNilData
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize token cache: %w", err)
	}

	cmd := r.client.B().Set().Key(r.key).Value(string(raw)).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to write token cache key %s: %w", r.key, err)
	}
	return nil
}
