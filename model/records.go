package model

import (
	"fmt"
	"time"
)

// 以下结构是持久化格式，字段名与历史数据保持一致，时间统一为毫秒时间戳。
// 计时器的渲染状态（变更回调）不在其中，加载后重新构建。

// TimerRecord 计时器记录
type TimerRecord struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	CycleTime  float64             `json:"cycleTime"`
	Mode       Mode                `json:"mode"`
	PlayTimes  int                 `json:"playTimes"`
	ReportTime []ReportPointRecord `json:"reportTime"`
	CreatedAt  int64               `json:"createdAt"`
	UpdatedAt  int64               `json:"updatedAt"`
}

// ReportPointRecord 报时点记录
type ReportPointRecord struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Time     float64        `json:"time"`
	AudioObj AudioObjRecord `json:"audioObj"`
	Tags     []string       `json:"tags"`
	Path     []string       `json:"path"`
}

// AudioObjRecord 音频对象记录
type AudioObjRecord struct {
	CurrentTime float64             `json:"currentTime"`
	Template    AudioTemplateRecord `json:"template"`
}

// AudioTemplateRecord 音频模板记录
type AudioTemplateRecord struct {
	UUID      string `json:"uuid"`
	Name      string `json:"name"`
	AudioID   string `json:"audioId"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// AudioAssetRecord 音频资源记录，载荷为 base64 文本
type AudioAssetRecord struct {
	Base64Data  string `json:"base64Data"`
	DownloadURL string `json:"downloadUrl"`
	ContentType string `json:"contentType,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

// Validate 检查外部传入的记录，规则与 Timer 的修改方法一致：
// 周期 > 0，模式合法，循环次数 > 0，报时点 id 唯一且偏移落在 [0, cycleTime)
func (rec TimerRecord) Validate() error {
	if rec.ID == "" {
		return NewValidationError("id", "timer id is empty")
	}
	if rec.CycleTime <= 0 {
		return NewValidationError("cycleTime", fmt.Sprintf("timer %s: must be positive, got %g", rec.ID, rec.CycleTime))
	}
	if !rec.Mode.Valid() {
		return NewValidationError("mode", fmt.Sprintf("timer %s: unknown mode %d", rec.ID, int(rec.Mode)))
	}
	if rec.PlayTimes <= 0 {
		return NewValidationError("playTimes", fmt.Sprintf("timer %s: must be positive, got %d", rec.ID, rec.PlayTimes))
	}
	seen := make(map[string]bool, len(rec.ReportTime))
	for _, p := range rec.ReportTime {
		if p.ID == "" {
			return NewValidationError("reportTime", fmt.Sprintf("timer %s: report point id is empty", rec.ID))
		}
		if seen[p.ID] {
			return NewValidationError("reportTime", fmt.Sprintf("timer %s: duplicate report point %s", rec.ID, p.ID))
		}
		seen[p.ID] = true
		if p.Time < 0 || p.Time >= rec.CycleTime {
			return NewValidationError("time",
				fmt.Sprintf("timer %s: report point %s offset %g is outside [0, %g)", rec.ID, p.ID, p.Time, rec.CycleTime))
		}
	}
	return nil
}

// ToRecord 序列化计时器
func (t *Timer) ToRecord() TimerRecord {
	points := make([]ReportPointRecord, 0, len(t.ReportTime))
	for _, rp := range t.ReportTime {
		points = append(points, rp.ToRecord())
	}
	return TimerRecord{
		ID:         t.ID,
		Name:       t.Name,
		CycleTime:  t.CycleTime,
		Mode:       t.Mode,
		PlayTimes:  t.PlayTimes,
		ReportTime: points,
		CreatedAt:  toMillis(t.CreatedAt),
		UpdatedAt:  toMillis(t.UpdatedAt),
	}
}

// TimerFromRecord 反序列化计时器，缺失字段按默认值补齐
func TimerFromRecord(rec TimerRecord) *Timer {
	t := NewTimer(rec.Name, rec.CycleTime)
	if rec.ID != "" {
		t.ID = rec.ID
	}
	if rec.Name == "" {
		t.Name = t.ID
	}
	if rec.Mode.Valid() {
		t.Mode = rec.Mode
	}
	if rec.PlayTimes > 0 {
		t.PlayTimes = rec.PlayTimes
	}
	now := time.Now()
	t.CreatedAt = fromMillis(rec.CreatedAt, now)
	t.UpdatedAt = fromMillis(rec.UpdatedAt, now)
	if t.UpdatedAt.Before(t.CreatedAt) {
		t.UpdatedAt = t.CreatedAt
	}
	for _, prec := range rec.ReportTime {
		t.ReportTime = append(t.ReportTime, ReportPointFromRecord(prec))
	}
	return t
}

// ToRecord 序列化报时点
func (p *ReportPoint) ToRecord() ReportPointRecord {
	return ReportPointRecord{
		ID:   p.ID,
		Name: p.Name,
		Time: p.Time,
		AudioObj: AudioObjRecord{
			CurrentTime: p.AudioObj.CurrentTime,
			Template:    p.AudioObj.Template.ToRecord(),
		},
		Tags: clonePath(p.Tags),
		Path: clonePath(p.Path),
	}
}

// ReportPointFromRecord 反序列化报时点
func ReportPointFromRecord(rec ReportPointRecord) *ReportPoint {
	return &ReportPoint{
		ID:   rec.ID,
		Name: rec.Name,
		Time: rec.Time,
		AudioObj: AudioObj{
			CurrentTime: rec.AudioObj.CurrentTime,
			Template:    TemplateFromRecord(rec.AudioObj.Template),
		},
		Tags: clonePath(rec.Tags),
		Path: clonePath(rec.Path),
	}
}

// ToRecord 序列化模板
func (t AudioObjTemplate) ToRecord() AudioTemplateRecord {
	return AudioTemplateRecord{
		UUID:      t.UUID,
		Name:      t.Name,
		AudioID:   t.AudioID,
		CreatedAt: toMillis(t.CreatedAt),
		UpdatedAt: toMillis(t.UpdatedAt),
	}
}

// TemplateFromRecord 反序列化模板。空模板（未关联）保持零值时间。
func TemplateFromRecord(rec AudioTemplateRecord) AudioObjTemplate {
	return AudioObjTemplate{
		UUID:      rec.UUID,
		Name:      rec.Name,
		AudioID:   rec.AudioID,
		CreatedAt: fromMillis(rec.CreatedAt, time.Time{}),
		UpdatedAt: fromMillis(rec.UpdatedAt, time.Time{}),
	}
}
