package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"UsefulTimer/logger"
	"UsefulTimer/model"
)

// TemplateRepository 定义音频模板的持久化接口
type TemplateRepository interface {
	SaveTemplate(ctx context.Context, template *model.AudioObjTemplate) error
	GetTemplate(ctx context.Context, uuid string) (*model.AudioObjTemplate, error)
	ListTemplates(ctx context.Context) []model.AudioObjTemplate
	DeleteTemplate(ctx context.Context, uuid string) (bool, error)
}

// KVTemplateRepository 模板保存在 UsefulTimer_AudioTemplates 命名空间
type KVTemplateRepository struct {
	store *Store
}

func NewKVTemplateRepository(store *Store) *KVTemplateRepository {
	return &KVTemplateRepository{store: store}
}

func (r *KVTemplateRepository) SaveTemplate(ctx context.Context, template *model.AudioObjTemplate) error {
	if template == nil || template.UUID == "" {
		return model.NewValidationError("uuid", "template uuid is required")
	}
	template.Touch()
	data, err := json.Marshal(template.ToRecord())
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	err = r.store.Update(ctx, KeyTemplates, func(items map[string]json.RawMessage) (bool, error) {
		items[template.UUID] = data
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to save template %s: %w", template.UUID, err)
	}
	return nil
}

func (r *KVTemplateRepository) GetTemplate(ctx context.Context, uuid string) (*model.AudioObjTemplate, error) {
	items, err := r.store.Load(ctx, KeyTemplates)
	if err != nil {
		return nil, err
	}
	raw, ok := items[uuid]
	if !ok {
		return nil, nil
	}
	var record model.AudioTemplateRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template %s: %w", uuid, err)
	}
	tpl := model.TemplateFromRecord(record)
	if tpl.UUID == "" {
		tpl.UUID = uuid
	}
	return &tpl, nil
}

func (r *KVTemplateRepository) ListTemplates(ctx context.Context) []model.AudioObjTemplate {
	items, err := r.store.Load(ctx, KeyTemplates)
	if err != nil {
		logger.Warn("读取音频模板失败", logger.ErrorField(err))
		return []model.AudioObjTemplate{}
	}
	templates := make([]model.AudioObjTemplate, 0, len(items))
	for uuid, raw := range items {
		var record model.AudioTemplateRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		tpl := model.TemplateFromRecord(record)
		if tpl.UUID == "" {
			tpl.UUID = uuid
		}
		templates = append(templates, tpl)
	}
	sort.SliceStable(templates, func(i, j int) bool {
		if templates[i].CreatedAt.Equal(templates[j].CreatedAt) {
			return templates[i].UUID < templates[j].UUID
		}
		return templates[i].CreatedAt.Before(templates[j].CreatedAt)
	})
	return templates
}

func (r *KVTemplateRepository) DeleteTemplate(ctx context.Context, uuid string) (bool, error) {
	var existed bool
	err := r.store.Update(ctx, KeyTemplates, func(items map[string]json.RawMessage) (bool, error) {
		_, existed = items[uuid]
		delete(items, uuid)
		return existed, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete template %s: %w", uuid, err)
	}
	return existed, nil
}
