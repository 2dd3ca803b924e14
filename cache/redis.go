package cache

import (
	"context"
	"fmt"
	"time"

	"UsefulTimer/config"

	"github.com/go-redis/redis/v8"
)

// ConnectRedis 创建 Redis 客户端并测试连接
func ConnectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisKV 以字符串键保存各个命名空间，键名加统一前缀
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV 基于已有客户端创建存储
func NewRedisKV(client *redis.Client, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: prefix}
}

func (r *RedisKV) key(k string) string {
	return r.prefix + k
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	if r.client == nil {
		return "", false, fmt.Errorf("Redis client not initialized")
	}
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get Redis key %s: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	if r.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set Redis key %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete Redis key %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Ping(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return r.client.Ping(ctx).Err()
}

// Close 关闭Redis连接
func (r *RedisKV) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
