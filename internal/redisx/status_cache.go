package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// putScript stores the view unless an invalidation newer than it was seen.
var putScript = redis.NewScript(`
local seen = redis.call("GET", KEYS[2])
if seen and tonumber(seen) > tonumber(ARGV[1]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// invalidateScript raises the version floor and drops the view.
var invalidateScript = redis.NewScript(`
local seen = redis.call("GET", KEYS[2])
if not seen or tonumber(seen) < tonumber(ARGV[1]) then
	redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[2])
else
	redis.call("PEXPIRE", KEYS[2], ARGV[2])
end
redis.call("DEL", KEYS[1])
return 1
`)

// StatusCache keeps rendered sale views for fast reads. Every entry carries
// the sale's updated_at as its version; an invalidation records the version
// of the change, and a read that raced with it cannot put an older view back.
type StatusCache struct {
	rdb *redis.Client
}

func NewStatusCache(rdb *redis.Client) *StatusCache {
	return &StatusCache{rdb: rdb}
}

func (c *StatusCache) Get(ctx context.Context, saleID string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeySaleStatus, saleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Put stores view as of version. It is a no-op when the sale was invalidated
// at a later version.
func (c *StatusCache) Put(ctx context.Context, saleID string, version time.Time, view []byte) error {
	keys := []string{fmt.Sprintf(KeySaleStatus, saleID), fmt.Sprintf(KeySaleStatusVersion, saleID)}
	return putScript.Run(ctx, c.rdb, keys, version.UnixMicro(), view, TTLStatusCache.Milliseconds()).Err()
}

// Invalidate drops the cached view for a change made at version.
func (c *StatusCache) Invalidate(ctx context.Context, saleID string, version time.Time) error {
	keys := []string{fmt.Sprintf(KeySaleStatus, saleID), fmt.Sprintf(KeySaleStatusVersion, saleID)}
	return invalidateScript.Run(ctx, c.rdb, keys, version.UnixMicro(), TTLStatusCache.Milliseconds()).Err()
}
