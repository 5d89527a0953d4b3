package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eddynotadi/mosquito-hunter/internal/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Connect builds a client and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to Redis: %w", err)
	}
	slog.Info("Successfully connected to Redis", "addr", addr)
	return rdb, nil
}

func Close(rdb *redis.Client) {
	if rdb != nil {
		rdb.Close()
		slog.Info("Redis connection closed")
	}
}

// RedisQueue is a FIFO list: producers LPUSH, consumers BRPOP.
type RedisQueue struct {
	rdb  *redis.Client
	name string
}

func NewRedisQueue(rdb *redis.Client, name string) *RedisQueue {
	return &RedisQueue{rdb: rdb, name: name}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.rdb.LPush(ctx, q.name, jobID).Err(); err != nil {
		return fmt.Errorf("failed to push job %s to queue '%s': %w", jobID, q.name, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrQueueEmpty
		}
		return "", err
	}
	// res is [queueName, value]
	if len(res) < 2 || res[1] == "" {
		return "", ErrQueueEmpty
	}
	return res[1], nil
}

// releaseScript deletes the lock only while it still holds our value.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

// RedisLocker hands out SET NX PX locks keyed by prefix+key.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLocker(rdb *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	lockKey := l.prefix + key
	lockValue := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to attempt lock acquisition for %s: %w", lockKey, err)
	}
	if !ok {
		return nil, common.ErrLockNotAcquired
	}

	return func(ctx context.Context) error {
		deleted, err := releaseScript.Run(ctx, l.rdb, []string{lockKey}, lockValue).Int64()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", lockKey, err)
		}
		if deleted == 0 {
			slog.Warn("lock expired or taken over before release", "key", lockKey)
		}
		return nil
	}, nil
}
