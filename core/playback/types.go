package playback

import (
	"context"
	"errors"
	"time"

	"UsefulTimer/core/audio"
	"UsefulTimer/model"
)

// ErrInvalidTransition 当前状态不允许该操作
var ErrInvalidTransition = errors.New("invalid playback transition")

// MissingAudioPolicy 报时点没有可用音频时的处理方式
type MissingAudioPolicy int

const (
	// SkipMissing 记录日志后跳过
	SkipMissing MissingAudioPolicy = iota
	// FallbackSilent 每次运行为该报时点合成一次静音音频后播放
	FallbackSilent
)

// Cue 一次需要播放的报时
type Cue struct {
	TimerID string             `json:"timerId"`
	Fire    Fire               `json:"fire"`
	Audio   *audio.AudioHandle `json:"audio"`
}

// Player 播放报时音频。实现需要支持并发调用，ctx 结束时应尽快返回。
type Player interface {
	Play(ctx context.Context, cue Cue) error
}

// AudioResolver 把音频对象解析为可播放的音频
type AudioResolver interface {
	Resolve(ctx context.Context, obj model.AudioObj) (*audio.AudioHandle, error)
}

// SilenceSource 生成静音占位音频，返回音频 id
type SilenceSource interface {
	GenerateSilentAudio(ctx context.Context, name string) (string, error)
}

// Fire 某个报时点在某个周期内的一次触发
type Fire struct {
	PointID string   `json:"pointId"`
	Name    string   `json:"name"`
	Offset  float64  `json:"offset"`
	Cycle   int      `json:"cycle"` // 从 0 开始的周期序号
	Tags    []string `json:"tags"`
	Path    []string `json:"path"`
}

// EventType 控制器事件类型
type EventType string

const (
	EventState  EventType = "state"
	EventFire   EventType = "fire"
	EventPlayed EventType = "played"
	EventSkip   EventType = "skip"
)

// Event 推送给观察者的事件
type Event struct {
	Type      EventType           `json:"type"`
	TimerID   string              `json:"timerId"`
	State     model.PlaybackState `json:"state,omitempty"`
	Previous  model.PlaybackState `json:"previous,omitempty"`
	Completed bool                `json:"completed,omitempty"`
	Fire      *Fire               `json:"fire,omitempty"`
	Error     string              `json:"error,omitempty"`
	At        time.Time           `json:"at"`
}

// Observer 事件回调。播放结果事件来自分发 goroutine，回调需要并发安全且不能阻塞。
type Observer func(Event)

// Options 控制器选项
type Options struct {
	Clock        model.Clock   // 驱动循环计算间隔用，默认系统时钟
	TickInterval time.Duration // 驱动循环节拍，默认 50ms
	Manual       bool          // 不启动驱动循环，由调用方 Advance
	MissingAudio MissingAudioPolicy
	Player       Player        // 为空时只触发事件不播放
	Resolver     AudioResolver // 为空时所有报时点按缺少音频处理
	Silence      SilenceSource // FallbackSilent 需要
}

// DefaultTickInterval 驱动循环默认节拍
const DefaultTickInterval = 50 * time.Millisecond
