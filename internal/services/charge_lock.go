package services

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ChargeLocker serializes work on one payment intent across server processes.
// The database constraints remain the source of truth; the lock only keeps
// concurrent deliveries from racing each other into the provider and the database.
type ChargeLocker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// NoopLocker is used when Redis is not configured
type NoopLocker struct{}

// Acquire returns immediately
func (NoopLocker) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

// releaseScript deletes the key only if this holder still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisChargeLocker is a SET NX lock with a TTL and owner-checked release
type RedisChargeLocker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
	logger *logrus.Logger
}

// NewRedisChargeLocker creates a Redis backed locker
func NewRedisChargeLocker(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisChargeLocker {
	return &RedisChargeLocker{
		client: client,
		ttl:    ttl,
		poll:   50 * time.Millisecond,
		logger: logger,
	}
}

// Acquire blocks until the lock is held or ctx ends. If Redis itself fails the
// caller proceeds unlocked and relies on the database.
func (l *RedisChargeLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := "charge-lock:" + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.logger.WithError(err).WithField("key", lockKey).Warn("Charge lock unavailable, continuing without it")
			return func() {}, nil
		}
		if ok {
			return func() {
				// release on a fresh context so a cancelled request still frees the key
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := releaseScript.Run(releaseCtx, l.client, []string{lockKey}, token).Err(); err != nil && err != redis.Nil {
					l.logger.WithError(err).WithField("key", lockKey).Warn("Failed to release charge lock")
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}
