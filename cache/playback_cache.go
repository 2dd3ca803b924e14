package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"UsefulTimer/model"

	"github.com/go-redis/redis/v8"
)

const (
	playbackKey    = "timer:%s:playback" // String: PlaybackStatus JSON
	activeTimerSet = "timers:active"     // Set: 正在运行或暂停的计时器
	playbackTTL    = 24 * time.Hour
)

// PlaybackCache 把播放状态同步到 Redis，其他进程（CLI、其他实例）可以查看
type PlaybackCache struct {
	client *redis.Client
	prefix string
}

// NewPlaybackCache 创建播放状态缓存
func NewPlaybackCache(client *redis.Client, prefix string) *PlaybackCache {
	return &PlaybackCache{client: client, prefix: prefix}
}

// SetPlayback 写入播放状态。Idle 状态会从活跃集合中移除。
func (c *PlaybackCache) SetPlayback(ctx context.Context, status model.PlaybackStatus) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal playback status: %w", err)
	}

	key := c.prefix + fmt.Sprintf(playbackKey, status.TimerID)
	setKey := c.prefix + activeTimerSet

	pipe := c.client.Pipeline()
	pipe.Set(ctx, key, data, playbackTTL)
	if status.State == model.StateIdle {
		pipe.SRem(ctx, setKey, status.TimerID)
	} else {
		pipe.SAdd(ctx, setKey, status.TimerID)
		pipe.Expire(ctx, setKey, playbackTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store playback status: %w", err)
	}
	return nil
}

// GetPlayback 读取播放状态，不存在时返回 nil, nil
func (c *PlaybackCache) GetPlayback(ctx context.Context, timerID string) (*model.PlaybackStatus, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	data, err := c.client.Get(ctx, c.prefix+fmt.Sprintf(playbackKey, timerID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var status model.PlaybackStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ActiveTimers 返回当前处于 running/paused 的计时器 id
func (c *PlaybackCache) ActiveTimers(ctx context.Context) ([]string, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}
	return c.client.SMembers(ctx, c.prefix+activeTimerSet).Result()
}

// RemovePlayback 删除播放状态
func (c *PlaybackCache) RemovePlayback(ctx context.Context, timerID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	pipe := c.client.Pipeline()
	pipe.Del(ctx, c.prefix+fmt.Sprintf(playbackKey, timerID))
	pipe.SRem(ctx, c.prefix+activeTimerSet, timerID)
	_, err := pipe.Exec(ctx)
	return err
}
