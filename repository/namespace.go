package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"UsefulTimer/storage"
)

// 持久化使用的固定键
const (
	KeyTimers    = "UsefulTimer_Timers"
	KeyTemplates = "UsefulTimer_AudioTemplates"
	KeyAppConfig = "UsefulTimer_AppConfig"
	KeyAssets    = "AudioDownload"
)

// AllKeys 所有命名空间，顺序固定
var AllKeys = []string{KeyTimers, KeyTemplates, KeyAppConfig, KeyAssets}

// CurrentVersion 命名空间信封的版本。
// 版本 1 是没有信封的裸 map（旧数据），读取时迁移，下次写入时改写为当前版本。
const CurrentVersion = 2

// ErrCorrupt 命名空间内容无法解析
var ErrCorrupt = errors.New("corrupt namespace data")

type envelope struct {
	Version int                        `json:"version"`
	Items   map[string]json.RawMessage `json:"items"`
}

// Store 在 KV 之上提供按命名空间的读-改-写。
// 同一个 Store 内对同一命名空间的写入互斥；跨进程的并发写仍可能丢失更新。
type Store struct {
	kv storage.KV

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore 创建 Store
func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv, locks: make(map[string]*sync.Mutex)}
}

// KV 底层键值存储
func (s *Store) KV() storage.KV { return s.kv }

func (s *Store) lock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// decodeNamespace 解析命名空间文本，兼容版本 1 的裸 map
func decodeNamespace(raw string) (map[string]json.RawMessage, int, error) {
	items := make(map[string]json.RawMessage)
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return items, CurrentVersion, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &top); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if _, hasItems := top["items"]; hasItems {
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err == nil && env.Version >= CurrentVersion {
			if env.Items != nil {
				items = env.Items
			}
			return items, env.Version, nil
		}
	}
	return top, 1, nil
}

func encodeNamespace(items map[string]json.RawMessage) (string, error) {
	if items == nil {
		items = make(map[string]json.RawMessage)
	}
	raw, err := json.Marshal(envelope{Version: CurrentVersion, Items: items})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Load 读取命名空间中的全部条目，键不存在时返回空 map
func (s *Store) Load(ctx context.Context, key string) (map[string]json.RawMessage, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok {
		return make(map[string]json.RawMessage), nil
	}
	items, _, err := decodeNamespace(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return items, nil
}

// Update 在命名空间锁内读取、修改并整体写回。fn 返回 false 时不写入。
func (s *Store) Update(ctx context.Context, key string, fn func(items map[string]json.RawMessage) (bool, error)) error {
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	items, err := s.Load(ctx, key)
	if err != nil {
		return err
	}
	changed, err := fn(items)
	if err != nil || !changed {
		return err
	}
	return s.write(ctx, key, items)
}

// Replace 用 items 整体替换命名空间
func (s *Store) Replace(ctx context.Context, key string, items map[string]json.RawMessage) error {
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()
	return s.write(ctx, key, items)
}

// Clear 删除整个命名空间
func (s *Store) Clear(ctx context.Context, key string) error {
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to clear %s: %w", key, err)
	}
	return nil
}

// RawSize 命名空间持久化文本的字节数
func (s *Store) RawSize(ctx context.Context, key string) (int, error) {
	raw, _, err := s.kv.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return len(raw), nil
}

func (s *Store) write(ctx context.Context, key string, items map[string]json.RawMessage) error {
	raw, err := encodeNamespace(items)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Migrate 把所有仍是旧格式的命名空间改写为当前版本，返回迁移的数量
func (s *Store) Migrate(ctx context.Context) (int, error) {
	migrated := 0
	for _, key := range AllKeys {
		raw, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return migrated, fmt.Errorf("failed to read %s: %w", key, err)
		}
		if !ok {
			continue
		}
		_, version, err := decodeNamespace(raw)
		if err != nil {
			return migrated, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		if version >= CurrentVersion {
			continue
		}
		if err := s.Update(ctx, key, func(map[string]json.RawMessage) (bool, error) { return true, nil }); err != nil {
			return migrated, err
		}
		migrated++
	}
	return migrated, nil
}
