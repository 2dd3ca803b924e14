package playback

import (
	"context"

	"UsefulTimer/logger"
)

// LogPlayer 只记录日志的播放器，命令行运行和没有客户端时使用
type LogPlayer struct{}

func (LogPlayer) Play(_ context.Context, cue Cue) error {
	fields := []logger.Field{
		logger.String("timerId", cue.TimerID),
		logger.String("point", cue.Fire.Name),
		logger.Float64("offset", cue.Fire.Offset),
		logger.Int("cycle", cue.Fire.Cycle),
	}
	if cue.Audio != nil {
		fields = append(fields,
			logger.String("audioId", cue.Audio.AssetID),
			logger.String("contentType", cue.Audio.ContentType),
			logger.Duration("duration", cue.Audio.Duration))
	}
	logger.Info("播放报时", fields...)
	return nil
}

// MultiPlayer 依次交给多个播放器，返回第一个错误
type MultiPlayer []Player

func (m MultiPlayer) Play(ctx context.Context, cue Cue) error {
	var first error
	for _, p := range m {
		if err := p.Play(ctx, cue); err != nil && first == nil {
			first = err
		}
	}
	return first
}
