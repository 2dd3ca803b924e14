package storage

import (
	"context"
	"errors"
)

// ErrClosed 存储已关闭
var ErrClosed = errors.New("store is closed")

// KV 键值存储底座。所有命名空间都以一个字符串值存放在一个键下。
// 键不存在时 Get 返回 ("", false, nil)。
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Pinger 可以检测连通性的存储
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping 检测存储连通性，不支持的实现视为可用
func Ping(ctx context.Context, kv KV) error {
	if p, ok := kv.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
