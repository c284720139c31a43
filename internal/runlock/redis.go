package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sitesync:lock:"

// Redis is a Locker shared by every process that reaches the same Redis
// server. Each instance has its own owner id, so one process cannot release
// another's lock.
type Redis struct {
	client  *redis.Client
	ownerID string
}

var _ Locker = (*Redis)(nil)

// NewRedis creates a Redis-backed lock.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, ownerID: newOwnerID()}
}

// Acquire uses SET NX with a TTL.
func (r *Redis) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+name, r.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release deletes the lock only if this instance owns it.
func (r *Redis) Release(ctx context.Context, name string) error {
	_, err := releaseScript.Run(ctx, r.client, []string{keyPrefix + name}, r.ownerID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Extend renews a held lock's TTL, for runs that outlive it.
func (r *Redis) Extend(ctx context.Context, name string, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, r.client, []string{keyPrefix + name}, r.ownerID, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("lock %s not held by this instance", name)
	}
	return nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// OwnerID identifies this instance in lock values.
func (r *Redis) OwnerID() string { return r.ownerID }
