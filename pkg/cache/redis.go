package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/c360/gpukit/errors"
)

// Encoder serializes a value for cold tier storage.
type Encoder[V any] func(value V) ([]byte, error)

// Decoder deserializes a value from cold tier storage.
type Decoder[V any] func(data []byte) (V, error)

// RedisTier is a cold tier backed by Redis. The client is owned by the
// caller; the tier never closes it. All entries share one key prefix and an
// optional TTL so unrelated tenants can share a Redis instance.
type RedisTier[V any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	encode Encoder[V]
	decode Decoder[V]
}

// NewRedisTier builds a cold tier over an existing Redis client.
// TTL of zero means entries never expire.
func NewRedisTier[V any](client *redis.Client, prefix string, ttl time.Duration, encode Encoder[V], decode Decoder[V]) (*RedisTier[V], error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "cache", "NewRedisTier", "nil redis client")
	}
	if encode == nil || decode == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "cache", "NewRedisTier", "encoder and decoder are required")
	}
	if prefix == "" {
		prefix = "gpukit:cache:"
	}
	return &RedisTier[V]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		encode: encode,
		decode: decode,
	}, nil
}

// Get implements Tier. A redis.Nil reply is a miss, not an error.
func (t *RedisTier[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	data, err := t.client.Get(ctx, t.prefix+key).Bytes()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, errors.WrapTransient(err, "cache", "Get",
			"redis lookup for "+key)
	}
	value, err := t.decode(data)
	if err != nil {
		return zero, false, errors.WrapInvalid(err, "cache", "Get",
			"decoding cached value for "+key)
	}
	return value, true, nil
}

// Put implements Tier. sizeBytes is accepted for interface symmetry; Redis
// does its own memory accounting.
func (t *RedisTier[V]) Put(ctx context.Context, key string, value V, sizeBytes int64) error {
	data, err := t.encode(value)
	if err != nil {
		return errors.WrapInvalid(err, "cache", "Put", "encoding value for "+key)
	}
	if err := t.client.Set(ctx, t.prefix+key, data, t.ttl).Err(); err != nil {
		return errors.WrapTransient(err, "cache", "Put", "redis write for "+key)
	}
	return nil
}

// Delete implements Tier.
func (t *RedisTier[V]) Delete(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, t.prefix+key).Err(); err != nil {
		return errors.WrapTransient(err, "cache", "Delete", "redis delete for "+key)
	}
	return nil
}

// Ping verifies connectivity to the Redis instance.
func (t *RedisTier[V]) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return errors.WrapTransient(err, "cache", "Ping", "redis connectivity check")
	}
	return nil
}
