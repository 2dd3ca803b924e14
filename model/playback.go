package model

import "time"

// PlaybackState 播放控制器状态
type PlaybackState string

const (
	StateIdle    PlaybackState = "idle"
	StateRunning PlaybackState = "running"
	StatePaused  PlaybackState = "paused"
)

// PlaybackStatus 某个计时器的播放快照，用于接口返回和跨进程展示
type PlaybackStatus struct {
	TimerID   string        `json:"timerId"`
	State     PlaybackState `json:"state"`
	Mode      Mode          `json:"mode"`
	Clock     float64       `json:"clock"` // 当前周期内已过去的秒数
	CycleTime float64       `json:"cycleTime"`
	Wraps     int           `json:"wraps"` // 已完成的周期数
	Completed bool          `json:"completed"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
