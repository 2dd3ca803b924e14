package notify

import (
	"context"

	"UsefulTimer/core/audio"
	"UsefulTimer/core/playback"
	"UsefulTimer/logger"
)

// Observe 把控制器事件转发给关注该计时器的客户端，可以直接作为 playback.Observer
func (h *Hub) Observe(e playback.Event) {
	msg, err := newMessage(MessageType(e.Type), e.TimerID, e)
	if err != nil {
		logger.Warn("failed to encode playback event", logger.ErrorField(err))
		return
	}
	if err := h.BroadcastWSMessage(msg); err != nil {
		logger.Warn("failed to broadcast playback event", logger.ErrorField(err))
	}
}

// StoreChanged 通知所有客户端某个命名空间被外部修改
func (h *Hub) StoreChanged(key string) {
	msg, err := newMessage(MsgTypeStoreChanged, "", map[string]string{"key": key})
	if err != nil {
		return
	}
	if err := h.BroadcastWSMessage(msg); err != nil {
		logger.Warn("failed to broadcast store change", logger.ErrorField(err))
	}
}

// CueData cue 消息的内容，客户端按 AudioURL 拉取音频
type CueData struct {
	Fire     playback.Fire      `json:"fire"`
	Audio    *audio.AudioHandle `json:"audio,omitempty"`
	AudioURL string             `json:"audioUrl,omitempty"`
}

// Player 把报时推送给浏览器客户端播放
type Player struct {
	Hub *Hub
	// AudioURL 由音频 id 生成下载地址，为空时不附带地址
	AudioURL func(audioID string) string
}

// NewPlayer 创建 WebSocket 播放器
func NewPlayer(hub *Hub, audioURL func(string) string) *Player {
	return &Player{Hub: hub, AudioURL: audioURL}
}

func (p *Player) Play(ctx context.Context, cue playback.Cue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := CueData{Fire: cue.Fire, Audio: cue.Audio}
	if cue.Audio != nil && p.AudioURL != nil {
		data.AudioURL = p.AudioURL(cue.Audio.AssetID)
	}
	msg, err := newMessage(MsgTypeCue, cue.TimerID, data)
	if err != nil {
		return err
	}
	return p.Hub.sendWSMessage(ctx, msg)
}
