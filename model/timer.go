package model

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// Mode 播放模式，数值与持久化格式保持一致
type Mode int

const (
	ModeOnce     Mode = 1
	ModeLoop     Mode = 2
	ModeInfinite Mode = 3
)

const (
	DefaultCycleTime = 3.0
	DefaultPlayTimes = 3
)

func (m Mode) String() string {
	switch m {
	case ModeOnce:
		return "Once"
	case ModeLoop:
		return "Loop"
	case ModeInfinite:
		return "Infinite"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Valid 是否为已知模式
func (m Mode) Valid() bool {
	return m == ModeOnce || m == ModeLoop || m == ModeInfinite
}

// Next 按 Once → Loop → Infinite → Once 循环
func (m Mode) Next() Mode {
	switch m {
	case ModeOnce:
		return ModeLoop
	case ModeLoop:
		return ModeInfinite
	default:
		return ModeOnce
	}
}

// ParseMode 解析模式名称（不区分大小写）
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "once":
		return ModeOnce, nil
	case "loop":
		return ModeLoop, nil
	case "infinite":
		return ModeInfinite, nil
	}
	return 0, NewValidationError("mode", fmt.Sprintf("unknown mode %q", s))
}

// ChangeKind 变更类型
type ChangeKind string

const (
	ChangeMode     ChangeKind = "mode"
	ChangePoints   ChangeKind = "points"
	ChangeSettings ChangeKind = "settings"
)

// ChangeEvent 计时器变更通知，供外层刷新界面使用
type ChangeEvent struct {
	TimerID string     `json:"timerId"`
	Kind    ChangeKind `json:"kind"`
}

// Timer 计时器：一个有名字、按周期重复的报时计划。
//
// Timer 不是并发安全的，一个实例只应由一个 goroutine 持有并修改；
// 播放控制器在启动时会复制报时点。
type Timer struct {
	ID         string
	Name       string
	CycleTime  float64 // 周期（秒），必须 > 0
	Mode       Mode
	PlayTimes  int // 仅 ModeLoop 有效
	ReportTime []*ReportPoint
	CreatedAt  time.Time
	UpdatedAt  time.Time

	clock     Clock
	ids       IDGenerator
	observers map[int]func(ChangeEvent)
	nextObs   int
}

// NewTimer 创建计时器，cycleTime <= 0 时使用默认周期
func NewTimer(name string, cycleTime float64) *Timer {
	return NewTimerWith(name, cycleTime, RealClock{}, UUIDGenerator{})
}

// NewTimerWith 使用指定的时钟和 id 生成器创建计时器
func NewTimerWith(name string, cycleTime float64, clock Clock, ids IDGenerator) *Timer {
	if cycleTime <= 0 {
		cycleTime = DefaultCycleTime
	}
	now := clock.Now()
	t := &Timer{
		ID:         ids.New(),
		CycleTime:  cycleTime,
		Mode:       ModeInfinite,
		PlayTimes:  DefaultPlayTimes,
		ReportTime: []*ReportPoint{},
		CreatedAt:  now,
		UpdatedAt:  now,
		clock:      clock,
		ids:        ids,
	}
	t.Name = name
	if t.Name == "" {
		t.Name = t.ID
	}
	return t
}

func (t *Timer) now() time.Time {
	if t.clock == nil {
		return time.Now()
	}
	return t.clock.Now()
}

// NewPoint 用计时器自己的 id 生成器创建报时点（不会自动加入）
func (t *Timer) NewPoint(name string, offset float64, audioObj AudioObj, tags, path []string) *ReportPoint {
	ids := t.ids
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return newReportPoint(ids, name, offset, audioObj, tags, path)
}

// Touch 更新修改时间，保证 UpdatedAt 单调不减且不早于 CreatedAt
func (t *Timer) Touch() {
	now := t.now()
	if now.Before(t.CreatedAt) {
		now = t.CreatedAt
	}
	if now.After(t.UpdatedAt) {
		t.UpdatedAt = now
	}
}

// Subscribe 注册变更回调，返回取消函数。回调不会被持久化。
func (t *Timer) Subscribe(fn func(ChangeEvent)) func() {
	if t.observers == nil {
		t.observers = make(map[int]func(ChangeEvent))
	}
	id := t.nextObs
	t.nextObs++
	t.observers[id] = fn
	return func() { delete(t.observers, id) }
}

func (t *Timer) notify(kind ChangeKind) {
	event := ChangeEvent{TimerID: t.ID, Kind: kind}
	for _, fn := range t.observers {
		fn(event)
	}
}

func (t *Timer) changed(kind ChangeKind) {
	t.Touch()
	t.notify(kind)
}

// checkOffset 报时点偏移必须落在 [0, CycleTime)
func (t *Timer) checkOffset(offset float64) error {
	if offset < 0 || offset >= t.CycleTime {
		return NewValidationError("time",
			fmt.Sprintf("offset %g is outside [0, %g)", offset, t.CycleTime))
	}
	return nil
}

// AddReportTime 添加报时点。id 重复或偏移越界时拒绝。
func (t *Timer) AddReportTime(p *ReportPoint) error {
	if p == nil {
		return NewValidationError("reportTime", "point is nil")
	}
	if t.FindReportTime(p.ID) != nil {
		return fmt.Errorf("report point %s: %w", p.ID, ErrDuplicateID)
	}
	if err := t.checkOffset(p.Time); err != nil {
		return err
	}
	t.ReportTime = append(t.ReportTime, p)
	t.changed(ChangePoints)
	return nil
}

// RemoveReportTime 按 id 删除报时点，不存在时返回 false
func (t *Timer) RemoveReportTime(p *ReportPoint) bool {
	if p == nil {
		return false
	}
	return t.RemoveReportTimeByID(p.ID)
}

// RemoveReportTimeByID 按 id 删除报时点
func (t *Timer) RemoveReportTimeByID(id string) bool {
	before := len(t.ReportTime)
	t.ReportTime = slices.DeleteFunc(t.ReportTime, func(rp *ReportPoint) bool { return rp.ID == id })
	if len(t.ReportTime) == before {
		return false
	}
	t.changed(ChangePoints)
	return true
}

// FindReportTime 按 id 查找报时点
func (t *Timer) FindReportTime(id string) *ReportPoint {
	for _, rp := range t.ReportTime {
		if rp.ID == id {
			return rp
		}
	}
	return nil
}

// GetReportTimesByPath 返回路径以 prefix 为有序前缀的报时点
func (t *Timer) GetReportTimesByPath(prefix []string) []*ReportPoint {
	result := make([]*ReportPoint, 0, len(t.ReportTime))
	for _, rp := range t.ReportTime {
		if rp.InDir(prefix) {
			result = append(result, rp)
		}
	}
	return result
}

// GetReportTimesByTag 返回包含 tag 的报时点
func (t *Timer) GetReportTimesByTag(tag string) []*ReportPoint {
	result := make([]*ReportPoint, 0)
	for _, rp := range t.ReportTime {
		if rp.HasTag(tag) {
			result = append(result, rp)
		}
	}
	return result
}

// MoveReportTime 替换报时点的路径，不影响标签和时间。点不属于本计时器时返回 false。
func (t *Timer) MoveReportTime(p *ReportPoint, newPath []string) bool {
	if p == nil {
		return false
	}
	rp := t.FindReportTime(p.ID)
	if rp == nil {
		return false
	}
	rp.SetPath(newPath)
	if rp != p {
		p.SetPath(newPath)
	}
	t.changed(ChangePoints)
	return true
}

// SetMode 设置播放模式
func (t *Timer) SetMode(mode Mode) error {
	if !mode.Valid() {
		return NewValidationError("mode", fmt.Sprintf("unknown mode %d", int(mode)))
	}
	t.Mode = mode
	t.changed(ChangeMode)
	return nil
}

// ToggleMode 按 Once → Loop → Infinite → Once 切换模式并通知刷新
func (t *Timer) ToggleMode() {
	t.Mode = t.Mode.Next()
	t.changed(ChangeMode)
}

// ModeDisplayName 返回模式名称
func (t *Timer) ModeDisplayName() string {
	return t.Mode.String()
}

// SetPlayTimes 设置 Loop 模式的循环次数
func (t *Timer) SetPlayTimes(n int) error {
	if n <= 0 {
		return NewValidationError("playTimes", fmt.Sprintf("must be positive, got %d", n))
	}
	t.PlayTimes = n
	t.changed(ChangeSettings)
	return nil
}

// SetCycleTime 修改周期。新的周期必须 > 0 且容纳所有已有报时点。
func (t *Timer) SetCycleTime(seconds float64) error {
	if seconds <= 0 {
		return NewValidationError("cycleTime", fmt.Sprintf("must be positive, got %g", seconds))
	}
	for _, rp := range t.ReportTime {
		if rp.Time >= seconds {
			return NewValidationError("cycleTime",
				fmt.Sprintf("report point %s at %g does not fit in %g", rp.ID, rp.Time, seconds))
		}
	}
	t.CycleTime = seconds
	t.changed(ChangeSettings)
	return nil
}

// SetName 修改名称
func (t *Timer) SetName(name string) {
	t.Name = name
	t.changed(ChangeSettings)
}

// CycleDuration 以 time.Duration 表示的周期
func (t *Timer) CycleDuration() time.Duration {
	return SecondsToDuration(t.CycleTime)
}

// SecondsToDuration 秒数转换为 time.Duration，四舍五入到纳秒
func SecondsToDuration(seconds float64) time.Duration {
	return time.Duration(math.Round(seconds * float64(time.Second)))
}

// WrapLimit 自动停止前允许的周期数，0 表示不限
func (t *Timer) WrapLimit() int {
	switch t.Mode {
	case ModeOnce:
		return 1
	case ModeLoop:
		if t.PlayTimes <= 0 {
			return DefaultPlayTimes
		}
		return t.PlayTimes
	default:
		return 0
	}
}
