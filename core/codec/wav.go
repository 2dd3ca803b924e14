package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"UsefulTimer/model"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
	bytesPerFrame = bitsPerSample / 8
	pcmFormat     = 1
)

// ErrNotWAV 数据不是可识别的 PCM WAV
var ErrNotWAV = errors.New("not a PCM WAV stream")

// WAVHeader RIFF/WAVE 头部的关键字段
type WAVHeader struct {
	RIFFSize      uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// Duration 按数据区长度计算的播放时长
func (h WAVHeader) Duration() time.Duration {
	if h.ByteRate == 0 {
		return 0
	}
	return time.Duration(float64(h.DataSize) / float64(h.ByteRate) * float64(time.Second))
}

// EncodeWAV 把浮点 PCM 编码为 16 位小端 WAV。
// 每个采样先截断到 [-1, 1]，乘以 32767 后向零取整；多声道按帧交错写入。
func EncodeWAV(channels [][]float32, sampleRate int) ([]byte, error) {
	if len(channels) == 0 {
		return nil, model.NewValidationError("channels", "at least one channel is required")
	}
	if sampleRate <= 0 {
		return nil, model.NewValidationError("sampleRate", fmt.Sprintf("must be positive, got %d", sampleRate))
	}
	frames := len(channels[0])
	for i, ch := range channels[1:] {
		if len(ch) != frames {
			return nil, model.NewValidationError("channels",
				fmt.Sprintf("channel %d has %d samples, want %d", i+1, len(ch), frames))
		}
	}

	numChannels := len(channels)
	blockAlign := numChannels * bytesPerFrame
	dataSize := frames * blockAlign

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataSize))
	buf.WriteString("RIFF")
	writeLE(buf, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	writeLE(buf, uint32(16))
	writeLE(buf, uint16(pcmFormat))
	writeLE(buf, uint16(numChannels))
	writeLE(buf, uint32(sampleRate))
	writeLE(buf, uint32(sampleRate*blockAlign))
	writeLE(buf, uint16(blockAlign))
	writeLE(buf, uint16(bitsPerSample))
	buf.WriteString("data")
	writeLE(buf, uint32(dataSize))

	sample := make([]byte, 2)
	for i := 0; i < frames; i++ {
		for _, ch := range channels {
			binary.LittleEndian.PutUint16(sample, uint16(quantize(ch[i])))
			buf.Write(sample)
		}
	}
	return buf.Bytes(), nil
}

// quantize 截断到 [-1, 1] 后缩放为 int16，向零取整
func quantize(v float32) int16 {
	f := float64(v)
	if math.IsNaN(f) {
		return 0
	}
	f = math.Max(-1, math.Min(1, f))
	return int16(math.Trunc(f * 0x7FFF))
}

func writeLE(buf *bytes.Buffer, v any) {
	// bytes.Buffer 的写入不会失败
	_ = binary.Write(buf, binary.LittleEndian, v)
}

// ParseWAVHeader 解析规范的 44 字节 PCM 头
func ParseWAVHeader(data []byte) (WAVHeader, error) {
	if len(data) < wavHeaderSize {
		return WAVHeader{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrNotWAV, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" ||
		string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return WAVHeader{}, fmt.Errorf("%w: missing RIFF/WAVE markers", ErrNotWAV)
	}
	le := binary.LittleEndian
	h := WAVHeader{
		RIFFSize:      le.Uint32(data[4:8]),
		AudioFormat:   le.Uint16(data[20:22]),
		Channels:      le.Uint16(data[22:24]),
		SampleRate:    le.Uint32(data[24:28]),
		ByteRate:      le.Uint32(data[28:32]),
		BlockAlign:    le.Uint16(data[32:34]),
		BitsPerSample: le.Uint16(data[34:36]),
		DataSize:      le.Uint32(data[40:44]),
	}
	if h.AudioFormat != pcmFormat {
		return h, fmt.Errorf("%w: audio format %d", ErrNotWAV, h.AudioFormat)
	}
	return h, nil
}

// Silence 生成指定时长的单声道静音采样
func Silence(sampleRate int, d time.Duration) [][]float32 {
	n := int(float64(sampleRate) * d.Seconds())
	if n < 0 {
		n = 0
	}
	return [][]float32{make([]float32, n)}
}
