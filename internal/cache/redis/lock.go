package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/openlaunch/saled/internal/domain"
)

// unlockLua is a Lua script that deletes a lock key only if its value matches
// the caller's unique token. This prevents one holder from accidentally
// releasing another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua refreshes the TTL of a lock key only if its value matches the
// caller's token. The key is never deleted, so no competing Acquire can slip
// in during a renewal.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// Lua-based conditional unlock and extend. The sale service holds a single
// lock for the lifetime of the process so only one replica mutates the
// ledger, renewing it in place before the TTL lapses.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script

	mu     sync.Mutex
	tokens map[string]string // lock key -> token held by this process
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
		tokens:   make(map[string]string),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to obtain a distributed lock for the given key with the
// specified TTL. On success it returns an unlock function that must be called
// to release the lock. The unlock function is safe to call multiple times.
//
// It returns domain.ErrLockHeld if the lock is already held by another party.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	lm.mu.Lock()
	lm.tokens[key] = token
	lm.mu.Unlock()

	// Build the unlock closure. It is safe to call more than once.
	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		lm.mu.Lock()
		if lm.tokens[key] == token {
			delete(lm.tokens, key)
		}
		lm.mu.Unlock()

		// Use a background context so unlock succeeds even if the caller's
		// context is already cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
	}

	return unlock, nil
}

// Extend refreshes the TTL of a lock previously acquired by this process.
// The refresh happens in place via a token-checked PEXPIRE, so the key stays
// set for the whole renewal. It returns domain.ErrLockLost when this process
// no longer holds the lock (expired TTL or a competing holder).
func (lm *LockManager) Extend(ctx context.Context, key string, ttl time.Duration) error {
	lm.mu.Lock()
	token, ok := lm.tokens[key]
	lm.mu.Unlock()
	if !ok {
		return fmt.Errorf("redis: extend lock %s: %w", key, domain.ErrLockLost)
	}

	res, err := lm.extendSc.Run(ctx, lm.rdb, []string{lockKey(key)},
		token, strconv.FormatInt(ttl.Milliseconds(), 10)).Int64()
	if err != nil {
		return fmt.Errorf("redis: extend lock %s: %w", key, err)
	}
	if res == 0 {
		lm.mu.Lock()
		if lm.tokens[key] == token {
			delete(lm.tokens, key)
		}
		lm.mu.Unlock()
		return fmt.Errorf("redis: extend lock %s: %w", key, domain.ErrLockLost)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
