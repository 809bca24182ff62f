package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/categorizer/common/id"
)

// releaseScript deletes the lease key only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only while the key still carries the caller's token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type redisLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisLease(client *redis.Client, key string, ttl time.Duration) RunLease {
	return &redisLease{client: client, key: key, ttl: ttl}
}

func (l *redisLease) Acquire(ctx context.Context) (*Lease, error) {
	token := id.NewToken()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring run lease: %w", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}

	return &Lease{Key: l.key, Token: token}, nil
}

func (l *redisLease) Renew(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return errors.New("renewing run lease: nil lease")
	}

	renewed, err := renewScript.Run(ctx, l.client, []string{lease.Key}, lease.Token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renewing run lease: %w", err)
	}
	if renewed == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return errors.New("releasing run lease: nil lease")
	}

	deleted, err := releaseScript.Run(ctx, l.client, []string{lease.Key}, lease.Token).Int()
	if err != nil {
		return fmt.Errorf("releasing run lease: %w", err)
	}
	if deleted == 0 {
		// TTL expired mid-run, another process may hold the key now.
		slog.WarnContext(ctx, "run lease expired before release", "key", lease.Key)
	}
	return nil
}
