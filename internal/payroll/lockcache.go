package payroll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

const (
	lockKeyPrefix = "payroll:lock"
	genKeyPrefix  = "payroll:lockgen"
	genTTL        = 24 * time.Hour
)

// fillScript caches a loaded status only when no Store or Invalidate bumped
// the generation while the loader ran.
var fillScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// storeScript bumps the generation and writes (or drops, when ARGV[1] is
// empty) the status in one step.
var storeScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
if ARGV[1] == '' then
	redis.call('DEL', KEYS[1])
else
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
end
return 1
`)

// LockCache keeps lock status in Redis. Concurrent lookups of the same key
// collapse into one loader call. A nil cache always calls the loader.
type LockCache struct {
	client   *redis.Client
	ttl      time.Duration
	logger   *slog.Logger
	observer CacheObserver
	group    singleflight.Group
}

// CacheObserver counts lookups by result: hit, miss or error.
type CacheObserver interface {
	LockCacheLookup(result string)
}

// NewLockCache instantiates the cache helper.
func NewLockCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *LockCache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LockCache{client: client, ttl: ttl, logger: logger}
}

// WithObserver attaches a lookup counter.
func (c *LockCache) WithObserver(o CacheObserver) *LockCache {
	if c != nil {
		c.observer = o
	}
	return c
}

func (c *LockCache) observe(result string) {
	if c.observer != nil {
		c.observer.LockCacheLookup(result)
	}
}

func lockKey(employeeID int64, period shared.Period) string {
	return fmt.Sprintf("%s:%d:%s", lockKeyPrefix, employeeID, period)
}

func genKey(employeeID int64, period shared.Period) string {
	return fmt.Sprintf("%s:%d:%s", genKeyPrefix, employeeID, period)
}

// Locked returns the cached status or populates it using loader. Redis
// failures fall through to the loader.
func (c *LockCache) Locked(ctx context.Context, employeeID int64, period shared.Period, loader func(context.Context) (bool, error)) (bool, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := lockKey(employeeID, period)
	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		return c.fetch(ctx, key, genKey(employeeID, period), loader)
	})
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	}
}

func (c *LockCache) fetch(ctx context.Context, key, gen string, loader func(context.Context) (bool, error)) (bool, error) {
	vals, err := c.client.MGet(ctx, key, gen).Result()
	if err != nil {
		c.observe("error")
		c.logger.Warn("lock cache get", slog.String("key", key), slog.Any("error", err))
		return loader(ctx)
	}
	if flag, ok := vals[0].(string); ok {
		c.observe("hit")
		return flag == "1", nil
	}
	c.observe("miss")
	seen := "0"
	if g, ok := vals[1].(string); ok {
		seen = g
	}
	locked, err := loader(ctx)
	if err != nil {
		return false, err
	}
	err = fillScript.Run(ctx, c.client, []string{key, gen}, seen, flagValue(locked), c.ttl.Milliseconds()).Err()
	if err != nil {
		c.logger.Warn("lock cache set", slog.String("key", key), slog.Any("error", err))
	}
	return locked, nil
}

// Store writes the committed status of one employee period. Lookups whose
// loader started before the call do not overwrite it.
func (c *LockCache) Store(ctx context.Context, employeeID int64, period shared.Period, locked bool) {
	c.write(ctx, employeeID, period, flagValue(locked))
}

// Invalidate drops the cached status of one employee period.
func (c *LockCache) Invalidate(ctx context.Context, employeeID int64, period shared.Period) {
	c.write(ctx, employeeID, period, "")
}

func (c *LockCache) write(ctx context.Context, employeeID int64, period shared.Period, flag string) {
	if c == nil || c.client == nil {
		return
	}
	key := lockKey(employeeID, period)
	c.group.Forget(key)
	err := storeScript.Run(ctx, c.client, []string{key, genKey(employeeID, period)},
		flag, c.ttl.Milliseconds(), genTTL.Milliseconds()).Err()
	if err != nil {
		c.logger.Warn("lock cache write", slog.String("key", key), slog.Any("error", err))
	}
}

func flagValue(locked bool) string {
	if locked {
		return "1"
	}
	return "0"
}
