package model

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so the domain model is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator 生成全局唯一的 id。
// 唯一性由生成器保证，调用方不再做冲突检测。
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDv4 strings.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// toMillis / fromMillis 与持久化格式（毫秒时间戳）互转
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64, fallback time.Time) time.Time {
	if ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms)
}
