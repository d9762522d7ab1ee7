package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "chat:catalog:"

// Catalog remembers positive existence answers of the wrapped catalog in redis.
// Negative answers are never cached so a newly created room or user is seen
// immediately. Redis failures fall through to the wrapped catalog.
type Catalog struct {
	next core.Catalog
	rdb  redis.Cmdable
	ttl  time.Duration
}

func NewCatalog(next core.Catalog, rdb redis.Cmdable, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{next: next, rdb: rdb, ttl: ttl}
}

func roomKey(room domain.RoomName) string { return keyPrefix + "room:" + string(room) }
func userKey(id domain.UserID) string     { return fmt.Sprintf("%suser:%d", keyPrefix, id) }

func (c *Catalog) RoomExists(ctx context.Context, room domain.RoomName) (bool, error) {
	return c.lookup(ctx, roomKey(room), func() (bool, error) { return c.next.RoomExists(ctx, room) })
}

func (c *Catalog) UserExists(ctx context.Context, id domain.UserID) (bool, error) {
	return c.lookup(ctx, userKey(id), func() (bool, error) { return c.next.UserExists(ctx, id) })
}

func (c *Catalog) lookup(ctx context.Context, key string, load func() (bool, error)) (bool, error) {
	err := c.rdb.Get(ctx, key).Err()
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, redis.Nil):
		log.Warn().Err(err).Str("module", "cache").Str("key", key).Msg("catalog cache read failed")
	}

	ok, err := load()
	if err != nil || !ok {
		return ok, err
	}
	if err := c.rdb.Set(ctx, key, "1", c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("module", "cache").Str("key", key).Msg("catalog cache write failed")
	}
	return true, nil
}
