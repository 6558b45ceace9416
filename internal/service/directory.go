package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/ration-booking/internal/logger"
	"github.com/iliyamo/ration-booking/internal/model"
)

// CitizenDirectory resolves a card holder's shop and entitlement.
// repository.CitizenRepo is the SQL implementation.
type CitizenDirectory interface {
	GetCitizen(ctx context.Context, citizenID string) (*model.Citizen, error)
}

// CachedDirectory is a Redis read-through cache in front of another
// directory.  Redis errors are logged and fall through to the backing
// directory; lookup errors are never cached.
type CachedDirectory struct {
	next   CitizenDirectory
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    *logger.Logger
}

// NewCachedDirectory wraps next.  With no Redis client or a non-positive
// TTL it returns next unchanged.
func NewCachedDirectory(next CitizenDirectory, rdb *redis.Client, ttl time.Duration, log *logger.Logger) CitizenDirectory {
	if rdb == nil || ttl <= 0 {
		return next
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CachedDirectory{next: next, rdb: rdb, ttl: ttl, prefix: "citizen:", log: log}
}

func (d *CachedDirectory) GetCitizen(ctx context.Context, citizenID string) (*model.Citizen, error) {
	key := d.prefix + citizenID
	bs, err := d.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var c model.Citizen
		if jerr := json.Unmarshal(bs, &c); jerr == nil {
			return &c, nil
		}
		d.log.WarnContext(ctx, "citizen cache: undecodable entry", "key", key)
	case !errors.Is(err, redis.Nil):
		d.log.WarnContext(ctx, "citizen cache: get failed", "err", err)
	}

	c, err := d.next.GetCitizen(ctx, citizenID)
	if err != nil {
		return nil, err
	}
	if bs, err := json.Marshal(c); err == nil {
		if err := d.rdb.Set(ctx, key, bs, d.ttl).Err(); err != nil {
			d.log.WarnContext(ctx, "citizen cache: set failed", "err", err)
		}
	}
	return c, nil
}
