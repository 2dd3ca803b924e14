package audio

import (
	"context"
	"fmt"
	"time"

	"UsefulTimer/core/codec"
	"UsefulTimer/logger"
	"UsefulTimer/repository"
)

// DefaultSampleRate 合成音频的默认采样率
const DefaultSampleRate = 44100

// Synthesizer 生成占位用的静音音频并写入音频库
type Synthesizer struct {
	assets     repository.AssetRepository
	sampleRate int
}

// NewSynthesizer sampleRate <= 0 时使用 DefaultSampleRate
func NewSynthesizer(assets repository.AssetRepository, sampleRate int) *Synthesizer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Synthesizer{assets: assets, sampleRate: sampleRate}
}

// SampleRate 当前采样率
func (s *Synthesizer) SampleRate() int { return s.sampleRate }

// GenerateSilentAudio 生成 1 秒单声道静音，保存为 <name>_silent.wav，返回音频 id
func (s *Synthesizer) GenerateSilentAudio(ctx context.Context, name string) (string, error) {
	wav, err := codec.EncodeWAV(codec.Silence(s.sampleRate, time.Second), s.sampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode silence: %w", err)
	}
	id, err := s.assets.SaveAudio(ctx, wav, name+"_silent.wav", "audio/wav")
	if err != nil {
		return "", fmt.Errorf("failed to save silent audio: %w", err)
	}
	logger.Info("静音音频已生成",
		logger.String("id", id),
		logger.String("name", name),
		logger.Int("sampleRate", s.sampleRate))
	return id, nil
}
