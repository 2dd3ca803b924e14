package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"UsefulTimer/core/codec"
	"UsefulTimer/logger"
	"UsefulTimer/model"
	"UsefulTimer/repository"
)

// 解析失败的类型
var (
	ErrUnresolved   = errors.New("audio reference is empty")
	ErrAssetMissing = errors.New("audio asset not found")
	ErrDecode       = errors.New("audio asset could not be decoded")
)

// ResolveError 带上音频 id 的解析错误，errors.Is 可以匹配 Kind 和底层错误
type ResolveError struct {
	AudioID string
	Kind    error
	Err     error
}

func (e *ResolveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve audio %q: %v: %v", e.AudioID, e.Kind, e.Err)
	}
	return fmt.Sprintf("resolve audio %q: %v", e.AudioID, e.Kind)
}

func (e *ResolveError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// AudioHandle 可以交给播放器的音频
type AudioHandle struct {
	AssetID     string        `json:"assetId"`
	ContentType string        `json:"contentType"`
	Source      string        `json:"source"`
	Payload     []byte        `json:"-"`
	Duration    time.Duration `json:"duration"` // 仅 WAV 可计算，否则为 0
	StartAt     float64       `json:"startAt"`  // 从 AudioObj.CurrentTime 继续播放
}

// Resolver 把 AudioObj 解析为可播放的音频，解码结果按 id 缓存
type Resolver struct {
	assets repository.AssetRepository

	mu    sync.RWMutex
	cache map[string]*AudioHandle
}

func NewResolver(assets repository.AssetRepository) *Resolver {
	return &Resolver{assets: assets, cache: make(map[string]*AudioHandle)}
}

// Resolve 解析音频对象。模板未关联、音频已删除或无法解码时返回 *ResolveError。
func (r *Resolver) Resolve(ctx context.Context, obj model.AudioObj) (*AudioHandle, error) {
	audioID := obj.AudioID()
	if audioID == "" {
		return nil, &ResolveError{Kind: ErrUnresolved}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handle, err := r.load(ctx, audioID)
	if err != nil {
		return nil, err
	}
	out := *handle
	out.StartAt = obj.CurrentTime
	return &out, nil
}

func (r *Resolver) load(ctx context.Context, audioID string) (*AudioHandle, error) {
	r.mu.RLock()
	cached, ok := r.cache[audioID]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	asset, err := r.assets.GetAudio(ctx, audioID)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			return nil, &ResolveError{AudioID: audioID, Kind: ErrDecode, Err: err}
		}
		return nil, &ResolveError{AudioID: audioID, Kind: ErrAssetMissing, Err: err}
	}
	if asset == nil {
		return nil, &ResolveError{AudioID: audioID, Kind: ErrAssetMissing}
	}

	handle := &AudioHandle{
		AssetID:     asset.ID,
		ContentType: asset.ContentType,
		Source:      asset.Source,
		Payload:     asset.Payload,
	}
	if header, err := codec.ParseWAVHeader(asset.Payload); err == nil {
		handle.Duration = header.Duration()
	}

	r.mu.Lock()
	r.cache[audioID] = handle
	r.mu.Unlock()
	return handle, nil
}

// Preload 预先加载音频到缓存，返回是否成功
func (r *Resolver) Preload(ctx context.Context, audioID string) bool {
	if audioID == "" {
		return false
	}
	if _, err := r.load(ctx, audioID); err != nil {
		logger.Debug("预加载音频失败", logger.String("audioId", audioID), logger.ErrorField(err))
		return false
	}
	return true
}

// PreloadTimer 预加载计时器所有报时点引用的音频，返回成功数量
func (r *Resolver) PreloadTimer(ctx context.Context, timer *model.Timer) int {
	seen := make(map[string]bool)
	loaded := 0
	for _, rp := range timer.ReportTime {
		id := rp.AudioObj.AudioID()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if r.Preload(ctx, id) {
			loaded++
		}
	}
	return loaded
}

// Forget 删除某个音频的缓存，音频被删除或替换后调用
func (r *Resolver) Forget(audioID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, audioID)
}

// Reset 清空缓存
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*AudioHandle)
}
