package persist

import (
	"context"
	"errors"

	apperrors "github.com/koopa0/system-design/14-shared-list/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisBackend Redis 後端，快照存成單一 key（不設 TTL）
//
// 持久性取決於 Redis 自身的 RDB/AOF 設定。
type RedisBackend struct {
	client *redis.Client
	key    string
	owns   bool
}

// NewRedisBackend 以既有客戶端創建後端
func NewRedisBackend(client *redis.Client, key string) *RedisBackend {
	return &RedisBackend{client: client, key: key}
}

// OpenRedis 連線並驗證 Redis 可用
func OpenRedis(ctx context.Context, opts *redis.Options, key string) (*RedisBackend, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "ping redis")
	}
	return &RedisBackend{client: client, key: key, owns: true}, nil
}

func (b *RedisBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "get snapshot")
	}
	return data, nil
}

func (b *RedisBackend) Save(ctx context.Context, data []byte) error {
	if err := b.client.Set(ctx, b.key, data, 0).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "set snapshot")
	}
	return nil
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Close() error {
	if b.owns {
		return b.client.Close()
	}
	return nil
}
