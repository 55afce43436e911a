// File: internal/infra/redis/submission_guard.go
package redis

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// SubmissionGuard holds a short-lived marker per payment submission key.
// Release only deletes a marker this process placed.
type SubmissionGuard struct {
	cli    *redis.Client
	prefix string
	tokens sync.Map // key -> token
}

func NewSubmissionGuard(c *Client) *SubmissionGuard {
	return &SubmissionGuard{cli: c.cli, prefix: "billing:"}
}

func (g *SubmissionGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, time.Duration, error) {
	k := g.prefix + key
	token := uuid.NewString()
	ok, err := g.cli.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		g.tokens.Store(k, token)
		return true, 0, nil
	}
	remaining, err := g.cli.PTTL(ctx, k).Result()
	if err != nil || remaining < 0 {
		// key vanished or has no expiry; report the full window
		remaining = ttl
	}
	return false, remaining, nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (g *SubmissionGuard) Release(ctx context.Context, key string) error {
	k := g.prefix + key
	v, ok := g.tokens.LoadAndDelete(k)
	if !ok {
		return nil
	}
	_, err := luaUnlock.Run(ctx, g.cli, []string{k}, v.(string)).Result()
	return err
}
