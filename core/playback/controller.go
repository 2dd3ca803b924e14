package playback

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"UsefulTimer/core/audio"
	"UsefulTimer/logger"
	"UsefulTimer/model"

	"go.uber.org/zap"
)

// scheduledPoint 启动时复制的报时点
type scheduledPoint struct {
	point  *model.ReportPoint
	offset time.Duration
}

// run 一次从 Idle 启动到回到 Idle 的运行，持有分发任务的上下文
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	silentMu sync.Mutex
	silent   map[string]string // pointID → 静音音频 id
}

// loop 驱动循环，暂停时退出，恢复时重新创建
type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller 单个计时器的播放状态机：Idle → Running → {Paused, Idle}。
//
// 每个节拍把周期内的时钟向前推进，所有本周期尚未触发且偏移 ≤ 时钟的报时点依次触发，
// 因此报时点最多晚一个节拍触发，不会提前。时钟越过周期长度时先触发本周期剩余的报时点，
// 再累加周期计数并检查模式上限（Once 1 次，Loop n 次，Infinite 不限），
// 未到上限则清空已触发集合进入下一周期。
type Controller struct {
	timerID string
	timer   *model.Timer
	opts    Options
	log     *zap.Logger

	mu      sync.Mutex
	state   model.PlaybackState
	mode    model.Mode
	limit   int
	cycle   time.Duration
	elapsed time.Duration
	wraps   int
	done    bool
	points  []scheduledPoint
	fired   map[string]bool
	run     *run
	lastRun *run
	loop    *loop
	updated time.Time

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int
}

// NewController 为计时器创建控制器，初始为 Idle
func NewController(timer *model.Timer, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = model.RealClock{}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	return &Controller{
		timerID:   timer.ID,
		timer:     timer,
		opts:      opts,
		log:       logger.Named("playback").With(zap.String("timerId", timer.ID)),
		state:     model.StateIdle,
		mode:      timer.Mode,
		fired:     make(map[string]bool),
		observers: make(map[int]Observer),
		updated:   opts.Clock.Now(),
	}
}

// TimerID 控制的计时器 id
func (c *Controller) TimerID() string { return c.timerID }

// Subscribe 注册事件回调，返回取消函数
func (c *Controller) Subscribe(fn Observer) func() {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		delete(c.observers, id)
	}
}

func (c *Controller) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	c.obsMu.RLock()
	observers := make([]Observer, 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.obsMu.RUnlock()
	for _, e := range events {
		for _, fn := range observers {
			fn(e)
		}
	}
}

func (c *Controller) stateEvent(prev model.PlaybackState, completed bool) Event {
	return Event{
		Type:      EventState,
		TimerID:   c.timerID,
		State:     c.state,
		Previous:  prev,
		Completed: completed,
		At:        c.opts.Clock.Now(),
	}
}

// State 当前状态
func (c *Controller) State() model.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status 当前播放快照
func (c *Controller) Status() model.PlaybackStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	cycle := c.cycle
	if cycle == 0 {
		cycle = c.timer.CycleDuration()
	}
	return model.PlaybackStatus{
		TimerID:   c.timerID,
		State:     c.state,
		Mode:      c.mode,
		Clock:     c.elapsed.Seconds(),
		CycleTime: cycle.Seconds(),
		Wraps:     c.wraps,
		Completed: c.done,
		UpdatedAt: c.updated,
	}
}

// snapshot 复制报时点，运行期间对计时器的修改不影响本次运行
func (c *Controller) snapshot() []scheduledPoint {
	points := make([]scheduledPoint, 0, len(c.timer.ReportTime))
	for _, rp := range c.timer.ReportTime {
		cp := *rp
		cp.Tags = slices.Clone(rp.Tags)
		cp.Path = slices.Clone(rp.Path)
		points = append(points, scheduledPoint{point: &cp, offset: model.SecondsToDuration(rp.Time)})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].offset < points[j].offset })
	return points
}

// Start Idle/Paused → Running
func (c *Controller) Start() error {
	c.mu.Lock()
	prev := c.state
	switch prev {
	case model.StateRunning:
		c.mu.Unlock()
		return fmt.Errorf("%w: already running", ErrInvalidTransition)
	case model.StateIdle:
		cycle := c.timer.CycleDuration()
		if cycle <= 0 {
			c.mu.Unlock()
			return model.NewValidationError("cycleTime", "cycle must be positive")
		}
		ctx, cancel := context.WithCancel(context.Background())
		c.run = &run{ctx: ctx, cancel: cancel, silent: make(map[string]string)}
		c.lastRun = c.run
		c.cycle = cycle
		c.mode = c.timer.Mode
		c.limit = c.timer.WrapLimit()
		c.points = c.snapshot()
		c.elapsed = 0
		c.wraps = 0
		c.done = false
		c.fired = make(map[string]bool)
	}
	c.state = model.StateRunning
	c.updated = c.opts.Clock.Now()
	if !c.opts.Manual {
		c.startLoopLocked()
	}
	event := c.stateEvent(prev, false)
	c.mu.Unlock()

	c.log.Info("报时器启动",
		zap.String("from", string(prev)),
		zap.String("mode", c.mode.String()),
		zap.Duration("cycle", c.cycle))
	c.emit(event)
	return nil
}

// Pause Running → Paused，冻结周期时钟，不再触发报时
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != model.StateRunning {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, state)
	}
	c.state = model.StatePaused
	c.updated = c.opts.Clock.Now()
	clock := c.elapsed
	l := c.loop
	c.loop = nil
	event := c.stateEvent(model.StateRunning, false)
	c.mu.Unlock()

	stopLoop(l)
	c.log.Info("报时器暂停", zap.Duration("clock", clock))
	c.emit(event)
	return nil
}

// Stop Running/Paused → Idle，时钟归零并取消正在进行的解析和播放
func (c *Controller) Stop() error {
	c.mu.Lock()
	prev := c.state
	if prev == model.StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("%w: already idle", ErrInvalidTransition)
	}
	l, r := c.resetLocked(false)
	event := c.stateEvent(prev, false)
	c.mu.Unlock()

	stopLoop(l)
	if r != nil {
		r.cancel()
		r.wg.Wait()
	}
	c.log.Info("报时器停止", zap.String("from", string(prev)))
	c.emit(event)
	return nil
}

// resetLocked 回到 Idle，返回需要在锁外结束的循环和运行
func (c *Controller) resetLocked(completed bool) (*loop, *run) {
	l, r := c.loop, c.run
	c.loop = nil
	c.run = nil
	c.state = model.StateIdle
	c.elapsed = 0
	c.done = completed
	c.fired = make(map[string]bool)
	c.updated = c.opts.Clock.Now()
	return l, r
}

// Wait 等待最近一次运行中已分发的播放任务结束
func (c *Controller) Wait() {
	c.mu.Lock()
	r := c.lastRun
	c.mu.Unlock()
	if r != nil {
		r.wg.Wait()
	}
}

// Advance 把周期时钟推进 d，返回本次触发的报时点。非 Running 状态下不做任何事。
func (c *Controller) Advance(d time.Duration) []Fire {
	c.mu.Lock()
	return c.advanceLocked(d)
}

// advanceLocked 调用时持有 c.mu，返回前释放
func (c *Controller) advanceLocked(d time.Duration) []Fire {
	if c.state != model.StateRunning || d < 0 {
		c.mu.Unlock()
		return nil
	}

	c.elapsed += d
	c.updated = c.opts.Clock.Now()
	var (
		fires     []Fire
		events    []Event
		completed bool
	)
	for {
		now := min(c.elapsed, c.cycle)
		for _, sp := range c.points {
			if sp.offset > now || c.fired[sp.point.ID] {
				continue
			}
			c.fired[sp.point.ID] = true
			fire := c.newFire(sp.point)
			fires = append(fires, fire)
			events = append(events, Event{Type: EventFire, TimerID: c.timerID, Fire: &fire, At: c.updated})
			c.dispatchLocked(sp.point, fire)
		}
		if c.elapsed < c.cycle {
			break
		}

		c.wraps++
		c.elapsed -= c.cycle
		c.fired = make(map[string]bool)
		if c.limit > 0 && c.wraps >= c.limit {
			completed = true
			break
		}
	}

	var finished *run
	var l *loop
	wraps := c.wraps
	if completed {
		l, finished = c.resetLocked(true)
		events = append(events, c.stateEvent(model.StateRunning, true))
	}
	c.mu.Unlock()

	if completed {
		// 不能在驱动循环内部等待它自己退出
		if l != nil {
			l.cancel()
		}
		if finished != nil {
			// 最后一个周期的报时仍要播完
			go func() {
				finished.wg.Wait()
				finished.cancel()
			}()
		}
		c.log.Info("报时器完成", zap.Int("wraps", wraps))
	}
	c.emit(events...)
	return fires
}

func (c *Controller) newFire(p *model.ReportPoint) Fire {
	return Fire{
		PointID: p.ID,
		Name:    p.Name,
		Offset:  p.Time,
		Cycle:   c.wraps,
		Tags:    slices.Clone(p.Tags),
		Path:    slices.Clone(p.Path),
	}
}

// dispatchLocked 在独立 goroutine 中解析并播放，失败只记录，不影响时钟推进
func (c *Controller) dispatchLocked(p *model.ReportPoint, fire Fire) {
	r := c.run
	if r == nil || c.opts.Player == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		c.play(r, p, fire)
	}()
}

func (c *Controller) play(r *run, p *model.ReportPoint, fire Fire) {
	ctx := r.ctx
	handle, err := c.resolve(ctx, r, p)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("报时点音频不可用，跳过",
				zap.String("pointId", p.ID),
				zap.String("name", p.Name),
				zap.Error(err))
			c.emit(Event{Type: EventSkip, TimerID: c.timerID, Fire: &fire, Error: err.Error(), At: c.opts.Clock.Now()})
		}
		return
	}

	if err := c.opts.Player.Play(ctx, Cue{TimerID: c.timerID, Fire: fire, Audio: handle}); err != nil {
		if ctx.Err() == nil {
			c.log.Warn("播放失败", zap.String("pointId", p.ID), zap.Error(err))
			c.emit(Event{Type: EventSkip, TimerID: c.timerID, Fire: &fire, Error: err.Error(), At: c.opts.Clock.Now()})
		}
		return
	}
	c.emit(Event{Type: EventPlayed, TimerID: c.timerID, Fire: &fire, At: c.opts.Clock.Now()})
}

func (c *Controller) resolve(ctx context.Context, r *run, p *model.ReportPoint) (*audio.AudioHandle, error) {
	var err error = &audio.ResolveError{Kind: audio.ErrUnresolved}
	if c.opts.Resolver != nil {
		var handle *audio.AudioHandle
		handle, err = c.opts.Resolver.Resolve(ctx, p.AudioObj)
		if err == nil {
			return handle, nil
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	missing := errors.Is(err, audio.ErrUnresolved) || errors.Is(err, audio.ErrAssetMissing)
	if !missing || c.opts.MissingAudio != FallbackSilent || c.opts.Silence == nil || c.opts.Resolver == nil {
		return nil, err
	}

	silentID, serr := c.silentFor(ctx, r, p)
	if serr != nil {
		return nil, fmt.Errorf("fallback to silence failed: %w", serr)
	}
	tpl := model.AudioObjTemplate{Name: p.Name, AudioID: silentID}
	return c.opts.Resolver.Resolve(ctx, model.NewAudioObj(tpl))
}

// silentFor 每次运行每个报时点只合成一次
func (c *Controller) silentFor(ctx context.Context, r *run, p *model.ReportPoint) (string, error) {
	r.silentMu.Lock()
	defer r.silentMu.Unlock()
	if id, ok := r.silent[p.ID]; ok {
		return id, nil
	}
	id, err := c.opts.Silence.GenerateSilentAudio(ctx, p.Name)
	if err != nil {
		return "", err
	}
	r.silent[p.ID] = id
	return id, nil
}

func (c *Controller) startLoopLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	c.loop = l
	go c.drive(ctx, l)
}

func stopLoop(l *loop) {
	if l == nil {
		return
	}
	l.cancel()
	<-l.done
}

// drive 按节拍推进时钟，实际间隔由 Clock 计算，节拍抖动不会累积误差
func (c *Controller) drive(ctx context.Context, l *loop) {
	defer close(l.done)
	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()

	last := c.opts.Clock.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := c.opts.Clock.Now()
			d := now.Sub(last)
			last = now

			c.mu.Lock()
			if c.loop != l {
				c.mu.Unlock()
				return
			}
			c.advanceLocked(d)
		}
	}
}
