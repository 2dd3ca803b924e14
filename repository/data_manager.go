package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"UsefulTimer/logger"
	"UsefulTimer/model"
)

// ExportVersion 导出文件的格式版本
const ExportVersion = "1.0.0"

// NamespaceStats 单个命名空间的条目数和持久化大小（字节）
type NamespaceStats struct {
	Count int `json:"count"`
	Size  int `json:"size"`
}

// StorageStats 各命名空间统计
type StorageStats struct {
	Timers         NamespaceStats `json:"timers"`
	AudioTemplates NamespaceStats `json:"audioTemplates"`
	AppConfig      NamespaceStats `json:"appConfig"`
	Audio          NamespaceStats `json:"audio"`
	TotalSize      int            `json:"totalSize"`
}

// ExportData 导出文件结构。导入时缺失的部分保持不变，空对象会清空对应数据。
type ExportData struct {
	Timers         map[string]model.TimerRecord         `json:"timers"`
	AudioTemplates map[string]model.AudioTemplateRecord `json:"audioTemplates"`
	AppConfig      map[string]any                       `json:"appConfig"`
	Audio          map[string]model.AudioAssetRecord    `json:"audio,omitempty"`
	ExportedAt     int64                                `json:"exportedAt"`
	Version        string                               `json:"version"`
}

// DataManager 汇总各仓库，负责统计、清理和导入导出
type DataManager struct {
	store     *Store
	Timers    *KVTimerRepository
	Templates *KVTemplateRepository
	Config    *ConfigRepository
	Assets    *KVAssetRepository
	clock     model.Clock
}

// NewDataManager 基于同一个 Store 创建全部仓库
func NewDataManager(store *Store, ids model.IDGenerator, clock model.Clock) *DataManager {
	return &DataManager{
		store:     store,
		Timers:    NewKVTimerRepository(store),
		Templates: NewKVTemplateRepository(store),
		Config:    NewConfigRepository(store, clock),
		Assets:    NewKVAssetRepository(store, ids, clock),
		clock:     clock,
	}
}

// Store 底层命名空间存储
func (m *DataManager) Store() *Store { return m.store }

func (m *DataManager) namespaceStats(ctx context.Context, key string) NamespaceStats {
	size, err := m.store.RawSize(ctx, key)
	if err != nil {
		logger.Warn("获取存储统计失败", logger.String("key", key), logger.ErrorField(err))
		return NamespaceStats{}
	}
	items, err := m.store.Load(ctx, key)
	if err != nil {
		return NamespaceStats{Size: size}
	}
	return NamespaceStats{Count: len(items), Size: size}
}

// StorageStats 统计所有命名空间，失败的部分记为零
func (m *DataManager) StorageStats(ctx context.Context) StorageStats {
	stats := StorageStats{
		Timers:         m.namespaceStats(ctx, KeyTimers),
		AudioTemplates: m.namespaceStats(ctx, KeyTemplates),
		AppConfig:      m.namespaceStats(ctx, KeyAppConfig),
		Audio:          m.namespaceStats(ctx, KeyAssets),
	}
	stats.TotalSize = stats.Timers.Size + stats.AudioTemplates.Size + stats.AppConfig.Size + stats.Audio.Size
	return stats
}

// ClearAllData 清空计时器、模板和应用配置。音频库需要单独调用 Assets.ClearAll。
func (m *DataManager) ClearAllData(ctx context.Context) error {
	for _, key := range []string{KeyTimers, KeyTemplates, KeyAppConfig} {
		if err := m.store.Clear(ctx, key); err != nil {
			return err
		}
	}
	logger.Info("所有应用数据已清空")
	return nil
}

// ExportAllData 导出为格式化的 JSON，includeAudio 为 true 时带上音频库
func (m *DataManager) ExportAllData(ctx context.Context, includeAudio bool) ([]byte, error) {
	timers, err := m.Timers.records(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export timers: %w", err)
	}
	templates, err := loadRecords[model.AudioTemplateRecord](ctx, m.store, KeyTemplates)
	if err != nil {
		return nil, fmt.Errorf("failed to export templates: %w", err)
	}

	data := ExportData{
		Timers:         timers,
		AudioTemplates: templates,
		AppConfig:      m.Config.GetAppConfig(ctx),
		ExportedAt:     m.clock.Now().UnixMilli(),
		Version:        ExportVersion,
	}
	if includeAudio {
		audio, err := loadRecords[model.AudioAssetRecord](ctx, m.store, KeyAssets)
		if err != nil {
			return nil, fmt.Errorf("failed to export audio: %w", err)
		}
		data.Audio = audio
	}
	return json.MarshalIndent(data, "", "  ")
}

// ImportAllData 导入数据，文件中出现的部分整体替换现有数据
func (m *DataManager) ImportAllData(ctx context.Context, raw []byte) error {
	var data ExportData
	if err := json.Unmarshal(raw, &data); err != nil {
		return model.NewValidationError("data", fmt.Sprintf("invalid export file: %v", err))
	}
	// 先整体校验，任何一条不合法都不写入
	for id, rec := range data.Timers {
		if rec.ID == "" {
			rec.ID = id
			data.Timers[id] = rec
		}
		if rec.ID != id {
			return model.NewValidationError("timers", fmt.Sprintf("key %q does not match timer id %q", id, rec.ID))
		}
		if err := rec.Validate(); err != nil {
			return err
		}
	}

	if data.Timers != nil {
		if err := replaceRecords(ctx, m.store, KeyTimers, data.Timers); err != nil {
			return err
		}
	}
	if data.AudioTemplates != nil {
		if err := replaceRecords(ctx, m.store, KeyTemplates, data.AudioTemplates); err != nil {
			return err
		}
	}
	if data.AppConfig != nil {
		if err := replaceRecords(ctx, m.store, KeyAppConfig, data.AppConfig); err != nil {
			return err
		}
	}
	if data.Audio != nil {
		if err := replaceRecords(ctx, m.store, KeyAssets, data.Audio); err != nil {
			return err
		}
	}
	logger.Info("数据导入完成",
		logger.Int("timers", len(data.Timers)),
		logger.Int("templates", len(data.AudioTemplates)),
		logger.Int("audio", len(data.Audio)))
	return nil
}

func loadRecords[T any](ctx context.Context, store *Store, key string) (map[string]T, error) {
	items, err := store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(items))
	for id, raw := range items {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			logger.Warn("跳过无法解析的记录", logger.String("key", key), logger.String("id", id))
			continue
		}
		out[id] = v
	}
	return out, nil
}

func replaceRecords[T any](ctx context.Context, store *Store, key string, records map[string]T) error {
	items := make(map[string]json.RawMessage, len(records))
	for id, v := range records {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s/%s: %w", key, id, err)
		}
		items[id] = raw
	}
	return store.Replace(ctx, key, items)
}
