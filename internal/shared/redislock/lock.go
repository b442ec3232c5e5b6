package redislock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// luaReleaseIfMatch 仅当锁值匹配持有者token时才删除，避免误删后来者的锁。
const luaReleaseIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// Locker 基于Redis SETNX的互斥锁，用于拦截重复提交。
// Redis不可用时降级放行，由数据库唯一约束兜底。
type Locker struct {
	rdb *redis.Client
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// Acquire 尝试获取锁，成功返回释放函数。
// acquired=false 表示锁已被占用（同一用户的并发请求）。
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (acquired bool, release func(), err error) {
	if l == nil || l.rdb == nil {
		return true, func() {}, nil
	}

	token := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		// Redis故障降级放行
		return true, func() {}, nil
	}
	if !ok {
		return false, nil, nil
	}

	release = func() {
		l.rdb.Eval(context.Background(), luaReleaseIfMatch, []string{key}, token)
	}
	return true, release, nil
}
