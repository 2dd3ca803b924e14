package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"UsefulTimer/logger"
	"UsefulTimer/model"
)

// ConfigRepository 应用配置（前端偏好等），整体是一个 JSON 对象
type ConfigRepository struct {
	store *Store
	clock model.Clock
}

func NewConfigRepository(store *Store, clock model.Clock) *ConfigRepository {
	return &ConfigRepository{store: store, clock: clock}
}

// SaveAppConfig 合并到已有配置并写入 updatedAt
func (r *ConfigRepository) SaveAppConfig(ctx context.Context, values map[string]any) error {
	encoded := make(map[string]json.RawMessage, len(values)+1)
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return model.NewValidationError(k, fmt.Sprintf("value is not JSON encodable: %v", err))
		}
		encoded[k] = raw
	}
	stamp, _ := json.Marshal(r.clock.Now().UnixMilli())

	err := r.store.Update(ctx, KeyAppConfig, func(items map[string]json.RawMessage) (bool, error) {
		if _, ok := items["createdAt"]; !ok {
			items["createdAt"] = stamp
		}
		for k, v := range encoded {
			items[k] = v
		}
		items["updatedAt"] = stamp
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to save app config: %w", err)
	}
	logger.Info("应用配置已保存")
	return nil
}

// GetAppConfig 读取配置。没有数据或读取失败时返回只含 createdAt 的配置。
func (r *ConfigRepository) GetAppConfig(ctx context.Context) map[string]any {
	items, err := r.store.Load(ctx, KeyAppConfig)
	if err != nil {
		logger.Warn("读取应用配置失败", logger.ErrorField(err))
		items = nil
	}
	if len(items) == 0 {
		return map[string]any{"createdAt": r.clock.Now().UnixMilli()}
	}
	out := make(map[string]any, len(items))
	for k, raw := range items {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		out[k] = v
	}
	return out
}
