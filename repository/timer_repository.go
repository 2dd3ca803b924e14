package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"UsefulTimer/logger"
	"UsefulTimer/model"
)

// TimerRepository 定义计时器的持久化接口
type TimerRepository interface {
	// SaveTimer 保存（新增或覆盖）计时器，并刷新修改时间
	SaveTimer(ctx context.Context, timer *model.Timer) error

	// GetTimer 获取计时器，不存在时返回 nil, nil
	GetTimer(ctx context.Context, id string) (*model.Timer, error)

	// UpdateTimer 在命名空间锁内读取、修改并保存计时器。
	// 不存在时返回 nil, nil；fn 返回错误时不写入。
	UpdateTimer(ctx context.Context, id string, fn func(*model.Timer) error) (*model.Timer, error)

	// ListTimers 按创建时间返回全部计时器，读取失败时返回空列表
	ListTimers(ctx context.Context) []*model.Timer

	// DeleteTimer 删除计时器，返回删除前是否存在
	DeleteTimer(ctx context.Context, id string) (bool, error)

	// CleanupDuplicateTimers 同名计时器只保留 updatedAt 最新的一个，返回删除数量
	CleanupDuplicateTimers(ctx context.Context) (int, error)
}

// KVTimerRepository 计时器保存在 UsefulTimer_Timers 命名空间
type KVTimerRepository struct {
	store *Store
}

// NewKVTimerRepository 创建计时器仓库
func NewKVTimerRepository(store *Store) *KVTimerRepository {
	return &KVTimerRepository{store: store}
}

func (r *KVTimerRepository) SaveTimer(ctx context.Context, timer *model.Timer) error {
	if timer == nil || timer.ID == "" {
		return model.NewValidationError("timer", "timer id is required")
	}
	timer.Touch()
	data, err := json.Marshal(timer.ToRecord())
	if err != nil {
		return fmt.Errorf("failed to marshal timer: %w", err)
	}
	err = r.store.Update(ctx, KeyTimers, func(items map[string]json.RawMessage) (bool, error) {
		items[timer.ID] = data
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to save timer %s: %w", timer.ID, err)
	}
	logger.Debug("计时器已保存", logger.String("timerId", timer.ID), logger.String("name", timer.Name))
	return nil
}

func (r *KVTimerRepository) GetTimer(ctx context.Context, id string) (*model.Timer, error) {
	items, err := r.store.Load(ctx, KeyTimers)
	if err != nil {
		return nil, err
	}
	raw, ok := items[id]
	if !ok {
		return nil, nil
	}
	var record model.TimerRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal timer %s: %w", id, err)
	}
	if record.ID == "" {
		record.ID = id
	}
	return model.TimerFromRecord(record), nil
}

func (r *KVTimerRepository) UpdateTimer(ctx context.Context, id string, fn func(*model.Timer) error) (*model.Timer, error) {
	var timer *model.Timer
	err := r.store.Update(ctx, KeyTimers, func(items map[string]json.RawMessage) (bool, error) {
		raw, ok := items[id]
		if !ok {
			return false, nil
		}
		var record model.TimerRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return false, fmt.Errorf("failed to unmarshal timer %s: %w", id, err)
		}
		if record.ID == "" {
			record.ID = id
		}
		t := model.TimerFromRecord(record)
		if err := fn(t); err != nil {
			return false, err
		}
		t.Touch()
		data, err := json.Marshal(t.ToRecord())
		if err != nil {
			return false, fmt.Errorf("failed to marshal timer: %w", err)
		}
		items[id] = data
		timer = t
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if timer != nil {
		logger.Debug("计时器已更新", logger.String("timerId", id))
	}
	return timer, nil
}

func (r *KVTimerRepository) ListTimers(ctx context.Context) []*model.Timer {
	records, err := r.records(ctx)
	if err != nil {
		logger.Warn("读取计时器列表失败", logger.ErrorField(err))
		return []*model.Timer{}
	}
	timers := make([]*model.Timer, 0, len(records))
	for _, record := range records {
		timers = append(timers, model.TimerFromRecord(record))
	}
	sort.SliceStable(timers, func(i, j int) bool {
		if timers[i].CreatedAt.Equal(timers[j].CreatedAt) {
			return timers[i].ID < timers[j].ID
		}
		return timers[i].CreatedAt.Before(timers[j].CreatedAt)
	})
	return timers
}

func (r *KVTimerRepository) records(ctx context.Context) (map[string]model.TimerRecord, error) {
	items, err := r.store.Load(ctx, KeyTimers)
	if err != nil {
		return nil, err
	}
	records := make(map[string]model.TimerRecord, len(items))
	for id, raw := range items {
		var record model.TimerRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			logger.Warn("跳过无法解析的计时器", logger.String("timerId", id), logger.ErrorField(err))
			continue
		}
		if record.ID == "" {
			record.ID = id
		}
		records[id] = record
	}
	return records, nil
}

func (r *KVTimerRepository) DeleteTimer(ctx context.Context, id string) (bool, error) {
	var existed bool
	err := r.store.Update(ctx, KeyTimers, func(items map[string]json.RawMessage) (bool, error) {
		_, existed = items[id]
		delete(items, id)
		return existed, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete timer %s: %w", id, err)
	}
	return existed, nil
}

func (r *KVTimerRepository) CleanupDuplicateTimers(ctx context.Context) (int, error) {
	removed := 0
	err := r.store.Update(ctx, KeyTimers, func(items map[string]json.RawMessage) (bool, error) {
		// 按名称分组，每组保留 updatedAt 最新的
		type entry struct {
			id        string
			updatedAt int64
		}
		newest := make(map[string]entry)
		var drop []string
		for id, raw := range items {
			var record model.TimerRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				continue
			}
			cur := entry{id: id, updatedAt: record.UpdatedAt}
			best, seen := newest[record.Name]
			if !seen {
				newest[record.Name] = cur
				continue
			}
			// 时间相同按 id 决定，保证结果稳定
			if cur.updatedAt > best.updatedAt || (cur.updatedAt == best.updatedAt && cur.id > best.id) {
				newest[record.Name] = cur
				drop = append(drop, best.id)
			} else {
				drop = append(drop, cur.id)
			}
		}
		for _, id := range drop {
			delete(items, id)
		}
		removed = len(drop)
		return removed > 0, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clean up timers: %w", err)
	}
	if removed > 0 {
		logger.Info("已清理重复计时器", logger.Int("removed", removed))
	}
	return removed, nil
}
