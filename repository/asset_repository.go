package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"UsefulTimer/core/codec"
	"UsefulTimer/logger"
	"UsefulTimer/model"
)

// AssetStats 音频库统计，TotalEncodedSize 按持久化的 base64 文本计算
type AssetStats struct {
	Count            int `json:"count"`
	TotalEncodedSize int `json:"totalEncodedSize"`
}

// AssetRepository 定义音频资源的存取接口
type AssetRepository interface {
	// SaveAudio 保存音频，返回新生成的 id
	SaveAudio(ctx context.Context, payload []byte, source, contentType string) (string, error)

	// GetAudio 按 id 读取并解码，不存在时返回 nil, nil
	GetAudio(ctx context.Context, id string) (*model.AudioAsset, error)

	// DeleteAudio 删除音频，返回删除前是否存在
	DeleteAudio(ctx context.Context, id string) (bool, error)

	// GetAllIDs 返回全部 id（已排序），读取失败时返回空列表
	GetAllIDs(ctx context.Context) []string

	// ClearAll 清空音频库
	ClearAll(ctx context.Context) error

	// GetStats 统计信息，读取失败时返回零值
	GetStats(ctx context.Context) AssetStats
}

// KVAssetRepository 把所有音频记录保存在 AudioDownload 命名空间
type KVAssetRepository struct {
	store *Store
	ids   model.IDGenerator
	clock model.Clock
}

// NewKVAssetRepository 创建音频仓库
func NewKVAssetRepository(store *Store, ids model.IDGenerator, clock model.Clock) *KVAssetRepository {
	return &KVAssetRepository{store: store, ids: ids, clock: clock}
}

func (r *KVAssetRepository) SaveAudio(ctx context.Context, payload []byte, source, contentType string) (string, error) {
	if len(payload) == 0 {
		return "", model.NewValidationError("payload", "audio payload is empty")
	}
	record := model.AudioAssetRecord{
		Base64Data:  codec.EncodeBase64(payload),
		DownloadURL: source,
		ContentType: contentType,
		CreatedAt:   r.clock.Now().UnixMilli(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal audio record: %w", err)
	}

	var id string
	err = r.store.Update(ctx, KeyAssets, func(items map[string]json.RawMessage) (bool, error) {
		id = r.ids.New()
		// 生成器保证唯一，碰撞时重新生成
		for {
			if _, taken := items[id]; !taken {
				break
			}
			id = r.ids.New()
		}
		items[id] = data
		return true, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to save audio: %w", err)
	}

	logger.Debug("音频已保存",
		logger.String("id", id),
		logger.String("source", source),
		logger.Int("size", len(payload)))
	return id, nil
}

func (r *KVAssetRepository) GetAudio(ctx context.Context, id string) (*model.AudioAsset, error) {
	items, err := r.store.Load(ctx, KeyAssets)
	if err != nil {
		return nil, err
	}
	raw, ok := items[id]
	if !ok {
		return nil, nil
	}

	var record model.AudioAssetRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audio %s: %w", id, err)
	}
	payload, err := codec.DecodeBase64(record.Base64Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio %s: %w", id, err)
	}

	contentType := record.ContentType
	if contentType == "" {
		contentType = codec.DataURLContentType(record.Base64Data)
	}
	if contentType == "" {
		contentType = http.DetectContentType(payload)
	}

	return &model.AudioAsset{
		ID:          id,
		Payload:     payload,
		Source:      record.DownloadURL,
		ContentType: contentType,
		CreatedAt:   time.UnixMilli(record.CreatedAt),
	}, nil
}

func (r *KVAssetRepository) DeleteAudio(ctx context.Context, id string) (bool, error) {
	var existed bool
	err := r.store.Update(ctx, KeyAssets, func(items map[string]json.RawMessage) (bool, error) {
		_, existed = items[id]
		delete(items, id)
		return existed, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete audio: %w", err)
	}
	return existed, nil
}

func (r *KVAssetRepository) GetAllIDs(ctx context.Context) []string {
	items, err := r.store.Load(ctx, KeyAssets)
	if err != nil {
		logger.Warn("读取音频列表失败", logger.ErrorField(err))
		return []string{}
	}
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *KVAssetRepository) ClearAll(ctx context.Context) error {
	return r.store.Clear(ctx, KeyAssets)
}

func (r *KVAssetRepository) GetStats(ctx context.Context) AssetStats {
	items, err := r.store.Load(ctx, KeyAssets)
	if err != nil {
		logger.Warn("读取音频统计失败", logger.ErrorField(err))
		return AssetStats{}
	}
	stats := AssetStats{Count: len(items)}
	for _, raw := range items {
		var record model.AudioAssetRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		stats.TotalEncodedSize += len(record.Base64Data)
	}
	return stats
}
