package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"UsefulTimer/logger"

	"github.com/fsnotify/fsnotify"
)

// FileKV 把所有键保存在一个 JSON 对象文件里。
// 每次写入先写临时文件再 rename，文件内容始终完整。
type FileKV struct {
	path string

	mu          sync.RWMutex
	data        map[string]string
	lastWritten []byte
}

// OpenFileKV 打开（或创建）存储文件
func OpenFileKV(path string) (*FileKV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	f := &FileKV{path: path, data: make(map[string]string)}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path 存储文件路径
func (f *FileKV) Path() string { return f.path }

// reload 从磁盘重新读取全部键值
func (f *FileKV) reload() error {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read store file: %w", err)
	}
	data := make(map[string]string)
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("failed to parse store file %s: %w", f.path, err)
		}
	}
	f.mu.Lock()
	f.data = data
	f.lastWritten = raw
	f.mu.Unlock()
	return nil
}

func (f *FileKV) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *FileKV) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, existed := f.data[key]
	f.data[key] = value
	if err := f.flushLocked(); err != nil {
		if existed {
			f.data[key] = old
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

func (f *FileKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, existed := f.data[key]
	if !existed {
		return nil
	}
	delete(f.data, key)
	if err := f.flushLocked(); err != nil {
		f.data[key] = old
		return err
	}
	return nil
}

func (f *FileKV) flushLocked() error {
	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	f.lastWritten = raw
	return nil
}

// Watch 监听存储文件被外部进程修改，重新加载后调用 onChange。
// 自己写入产生的事件会被忽略。ctx 结束时返回。
func (f *FileKV) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// 监听目录而不是文件，rename 替换后文件句柄会失效
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", f.path, err)
	}
	target := filepath.Clean(f.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !f.externallyModified() {
				continue
			}
			if err := f.reload(); err != nil {
				logger.Warn("存储文件重新加载失败", logger.String("path", f.path), logger.ErrorField(err))
				continue
			}
			logger.Info("存储文件被外部修改，已重新加载", logger.String("path", f.path))
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", logger.ErrorField(err))
		}
	}
}

func (f *FileKV) externallyModified() bool {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return !bytes.Equal(raw, f.lastWritten)
}
