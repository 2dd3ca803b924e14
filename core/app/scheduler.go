package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"UsefulTimer/cache"
	"UsefulTimer/core/playback"
	"UsefulTimer/logger"
	"UsefulTimer/model"
	"UsefulTimer/repository"
)

// timerPreloader 解析器可选实现，启动前预热计时器引用的音频
type timerPreloader interface {
	PreloadTimer(ctx context.Context, timer *model.Timer) int
}

// Scheduler 管理每个计时器的播放控制器。
// 控制器在第一次 Start 时创建，完成或 Stop 后移出注册表。
type Scheduler struct {
	timers    repository.TimerRepository
	opts      playback.Options
	cache     *cache.PlaybackCache
	observers []playback.Observer

	mu          sync.Mutex
	controllers map[string]*playback.Controller
}

// NewScheduler 创建调度器，opts 作为每个控制器的模板
func NewScheduler(timers repository.TimerRepository, opts playback.Options) *Scheduler {
	return &Scheduler{
		timers:      timers,
		opts:        opts,
		controllers: make(map[string]*playback.Controller),
	}
}

// SetPlaybackCache 把状态变化同步到 Redis
func (s *Scheduler) SetPlaybackCache(c *cache.PlaybackCache) {
	s.cache = c
}

// AddObserver 为之后创建的控制器追加观察者，需要在 Start 之前调用
func (s *Scheduler) AddObserver(fn playback.Observer) {
	s.observers = append(s.observers, fn)
}

func (s *Scheduler) controller(timerID string) *playback.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controllers[timerID]
}

func (s *Scheduler) remove(timerID string, c *playback.Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.controllers[timerID] == c {
		delete(s.controllers, timerID)
	}
}

// Start 启动或恢复计时器
func (s *Scheduler) Start(ctx context.Context, timerID string) (model.PlaybackStatus, error) {
	c := s.controller(timerID)
	if c == nil {
		timer, err := s.timers.GetTimer(ctx, timerID)
		if err != nil {
			return model.PlaybackStatus{}, fmt.Errorf("failed to load timer %s: %w", timerID, err)
		}
		if timer == nil {
			return model.PlaybackStatus{}, fmt.Errorf("timer %s: %w", timerID, model.ErrNotFound)
		}
		if p, ok := s.opts.Resolver.(timerPreloader); ok {
			if n := p.PreloadTimer(ctx, timer); n > 0 {
				logger.Debug("预热计时器音频", logger.String("timerId", timerID), logger.Int("count", n))
			}
		}

		created := s.newController(timer)
		s.mu.Lock()
		if existing := s.controllers[timerID]; existing != nil {
			c = existing
		} else {
			s.controllers[timerID] = created
			c = created
		}
		s.mu.Unlock()
	}

	// 控制器的事件回调会进入 s.mu，调用控制器时不能持有它
	if err := c.Start(); err != nil {
		if c.State() == model.StateIdle {
			s.remove(timerID, c)
		}
		return c.Status(), err
	}
	return c.Status(), nil
}

func (s *Scheduler) newController(timer *model.Timer) *playback.Controller {
	c := playback.NewController(timer, s.opts)
	for _, fn := range s.observers {
		c.Subscribe(fn)
	}
	c.Subscribe(func(e playback.Event) {
		if e.Type != playback.EventState {
			return
		}
		if e.State == model.StateIdle {
			s.remove(e.TimerID, c)
		}
		s.mirror(c.Status())
	})
	return c
}

// mirror 同步状态到缓存，失败只记录
func (s *Scheduler) mirror(status model.PlaybackStatus) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.cache.SetPlayback(ctx, status); err != nil {
		logger.Warn("failed to mirror playback status",
			logger.String("timerId", status.TimerID),
			logger.ErrorField(err))
	}
}

// Pause 暂停正在运行的计时器
func (s *Scheduler) Pause(timerID string) (model.PlaybackStatus, error) {
	c := s.controller(timerID)
	if c == nil {
		return model.PlaybackStatus{}, fmt.Errorf("%w: timer %s is not running", playback.ErrInvalidTransition, timerID)
	}
	err := c.Pause()
	return c.Status(), err
}

// Stop 停止计时器并移出注册表
func (s *Scheduler) Stop(timerID string) (model.PlaybackStatus, error) {
	c := s.controller(timerID)
	if c == nil {
		return model.PlaybackStatus{}, fmt.Errorf("%w: timer %s is not running", playback.ErrInvalidTransition, timerID)
	}
	err := c.Stop()
	s.remove(timerID, c)
	return c.Status(), err
}

// Status 返回播放状态。没有控制器的计时器视为 Idle。
func (s *Scheduler) Status(ctx context.Context, timerID string) (model.PlaybackStatus, error) {
	if c := s.controller(timerID); c != nil {
		return c.Status(), nil
	}
	// 可能在另一个进程中运行
	if cached := s.cached(ctx, timerID); cached != nil {
		return *cached, nil
	}
	timer, err := s.timers.GetTimer(ctx, timerID)
	if err != nil {
		return model.PlaybackStatus{}, fmt.Errorf("failed to load timer %s: %w", timerID, err)
	}
	if timer == nil {
		return model.PlaybackStatus{}, fmt.Errorf("timer %s: %w", timerID, model.ErrNotFound)
	}
	return model.PlaybackStatus{
		TimerID:   timer.ID,
		State:     model.StateIdle,
		Mode:      timer.Mode,
		CycleTime: timer.CycleTime,
		UpdatedAt: timer.UpdatedAt,
	}, nil
}

// Active 返回所有运行中或暂停的计时器状态，按 id 排序
func (s *Scheduler) Active() []model.PlaybackStatus {
	s.mu.Lock()
	controllers := make([]*playback.Controller, 0, len(s.controllers))
	for _, c := range s.controllers {
		controllers = append(controllers, c)
	}
	s.mu.Unlock()

	result := make([]model.PlaybackStatus, 0, len(controllers))
	for _, c := range controllers {
		result = append(result, c.Status())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TimerID < result[j].TimerID })
	return result
}

// ActiveAll 在 Active 的基础上加入缓存中其他进程正在运行的计时器
func (s *Scheduler) ActiveAll(ctx context.Context) []model.PlaybackStatus {
	result := s.Active()
	if s.cache == nil {
		return result
	}
	ids, err := s.cache.ActiveTimers(ctx)
	if err != nil {
		logger.Warn("failed to list cached playback", logger.ErrorField(err))
		return result
	}
	local := make(map[string]bool, len(result))
	for _, st := range result {
		local[st.TimerID] = true
	}
	for _, id := range ids {
		if local[id] {
			continue
		}
		if cached := s.cached(ctx, id); cached != nil {
			result = append(result, *cached)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TimerID < result[j].TimerID })
	return result
}

// cached 读取缓存中非 Idle 的状态
func (s *Scheduler) cached(ctx context.Context, timerID string) *model.PlaybackStatus {
	if s.cache == nil {
		return nil
	}
	status, err := s.cache.GetPlayback(ctx, timerID)
	if err != nil {
		logger.Debug("failed to read cached playback", logger.String("timerId", timerID), logger.ErrorField(err))
		return nil
	}
	if status == nil || status.State == model.StateIdle {
		return nil
	}
	return status
}

// Forget 计时器被删除时调用：停止播放并清除缓存中的状态
func (s *Scheduler) Forget(ctx context.Context, timerID string) {
	if c := s.controller(timerID); c != nil {
		if err := c.Stop(); err != nil {
			logger.Debug("stop timer", logger.String("timerId", timerID), logger.ErrorField(err))
		}
		s.remove(timerID, c)
	}
	if s.cache != nil {
		if err := s.cache.RemovePlayback(ctx, timerID); err != nil {
			logger.Warn("failed to remove cached playback", logger.String("timerId", timerID), logger.ErrorField(err))
		}
	}
}

// StopAll 停止全部计时器，关闭服务时调用
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	controllers := s.controllers
	s.controllers = make(map[string]*playback.Controller)
	s.mu.Unlock()

	for id, c := range controllers {
		if err := c.Stop(); err != nil {
			logger.Debug("stop timer", logger.String("timerId", id), logger.ErrorField(err))
		}
	}
	if len(controllers) > 0 {
		logger.Info("已停止全部计时器", logger.Int("count", len(controllers)))
	}
}
