package redis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

// Deletes the key only if the caller still owns it.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager hands out SETNX locks with a TTL.
type LockManager struct {
	rdb      redis.UniversalClient
	unlockSc *redis.Script
	prefix   string
}

// NewLockManager creates a lock manager. Keys are stored as prefix+key.
func NewLockManager(c *Client, prefix string) *LockManager {
	if prefix == "" {
		prefix = "lock:"
	}
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		prefix:   prefix,
	}
}

// Acquire takes the lock for key or returns LOCK_NOT_ACQUIRED. The returned
// unlock func is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.prefix + key

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, apperror.New(apperror.CodeRedisError,
			apperror.WithCause(err),
			apperror.WithContext("acquire "+key))
	}
	if !ok {
		return nil, apperror.New(apperror.CodeLockNotAcquired, apperror.WithContext(key))
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}
