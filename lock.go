package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const runLockKey = "postwriter:run:lock"

// releaseScript deletes the lock key only while it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock guards the dispatcher critical section
type RunLock interface {
	// TryAcquire returns ok=false without blocking when a run is already in progress
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// LocalLock is an in-process run lock
type LocalLock struct {
	mu sync.Mutex
}

func (l *LocalLock) TryAcquire(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// RedisLock is a run lock shared by every process using the same Redis
type RedisLock struct {
	rdb   *redis.Client
	key   string
	ttl   time.Duration
	local LocalLock
}

// NewRedisLock connects to redisURL (redis://...) and verifies the connection
func NewRedisLock(ctx context.Context, redisURL string, ttl time.Duration) (*RedisLock, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisLock{rdb: rdb, key: runLockKey, ttl: ttl}, nil
}

// TryAcquire takes the in-process lock first, then the Redis key.
// The key holds a random token so only the holder deletes it.
func (l *RedisLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	unlock, ok, _ := l.local.TryAcquire(ctx)
	if !ok {
		return nil, false, nil
	}

	token := uuid.NewString()
	acquired, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		unlock()
		return nil, false, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !acquired {
		unlock()
		return nil, false, nil
	}

	release := func() {
		defer unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err()
	}
	return release, true, nil
}

// Close releases the Redis connection
func (l *RedisLock) Close() error {
	return l.rdb.Close()
}
