package model

import "time"

// AudioObjTemplate 音频模板：一个有名字、可复用的音频资源引用。
// UUID 是模板自身的标识，AudioID 指向 AssetStore 中的音频记录，为空表示尚未关联。
type AudioObjTemplate struct {
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	AudioID   string    `json:"audioId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewAudioObjTemplate 创建模板，uuid 为空时自动生成
func NewAudioObjTemplate(name, audioID, uuid string) AudioObjTemplate {
	if uuid == "" {
		uuid = UUIDGenerator{}.New()
	}
	now := time.Now()
	return AudioObjTemplate{
		UUID:      uuid,
		Name:      name,
		AudioID:   audioID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch 更新修改时间，不会让 UpdatedAt 倒退
func (t *AudioObjTemplate) Touch() {
	now := time.Now()
	if now.After(t.UpdatedAt) {
		t.UpdatedAt = now
	}
}

// SetAudioID 重新关联音频资源
func (t *AudioObjTemplate) SetAudioID(audioID string) {
	t.AudioID = audioID
	t.Touch()
}

// SetName 修改模板名称
func (t *AudioObjTemplate) SetName(name string) {
	t.Name = name
	t.Touch()
}

// Resolved 模板是否已关联音频
func (t AudioObjTemplate) Resolved() bool {
	return t.AudioID != ""
}

// AudioObj 报时点持有的音频对象。
// 它只引用模板（以及模板背后的音频资源），删除音频不会级联删除引用。
type AudioObj struct {
	Template    AudioObjTemplate `json:"template"`
	CurrentTime float64          `json:"currentTime"` // 暂停时记录的播放进度（秒）
}

// EmptyAudioObj 返回未关联任何音频的对象
func EmptyAudioObj() AudioObj {
	return AudioObj{}
}

// NewAudioObj 基于模板创建音频对象
func NewAudioObj(template AudioObjTemplate) AudioObj {
	return AudioObj{Template: template}
}

// AudioID 返回引用的音频资源 id
func (a AudioObj) AudioID() string {
	return a.Template.AudioID
}

// AudioAsset AssetStore 中的一条音频记录（已解码）
type AudioAsset struct {
	ID          string    `json:"id"`
	Payload     []byte    `json:"-"`
	Source      string    `json:"source"` // 下载地址或文件名
	ContentType string    `json:"contentType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Size 原始音频字节数
func (a *AudioAsset) Size() int {
	return len(a.Payload)
}
