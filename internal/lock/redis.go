package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 只有持有者本人才能释放
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

var errLockHeld = errors.New("lock held by another holder")

// redisCmdable 是 *redis.Client 的一个子集，便于测试替换
type redisCmdable interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis 跨进程的会话锁，多副本部署时使用
//
// TTL 兜底防止持有者崩溃后锁永不释放，请求耗时必须小于 TTL。
type Redis struct {
	rdb    redisCmdable
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

func NewRedis(rdb *redis.Client, prefix string, ttl time.Duration) *Redis {
	return newRedis(rdb, prefix, ttl)
}

func newRedis(rdb redisCmdable, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "culture-bot:lock:"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl, poll: 50 * time.Millisecond}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	name := r.prefix + key
	token := uuid.NewString()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.poll
	eb.MaxInterval = time.Second
	eb.MaxElapsedTime = 0

	acquire := func() error {
		ok, err := r.rdb.SetNX(ctx, name, token, r.ttl).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("redis setnx: %w", err))
		}
		if !ok {
			return errLockHeld
		}
		return nil
	}
	if err := backoff.Retry(acquire, backoff.WithContext(eb, ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	return func() {
		// 请求的 ctx 可能已取消，释放锁用独立的短超时
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.rdb.Eval(rctx, releaseScript, []string{name}, token).Err(); err != nil {
			slog.Warn("release session lock failed", "key", key, "error", err)
		}
	}, nil
}
