package model

import "slices"

// ReportPoint 报时点：在周期内固定偏移处触发的提示音。
// Path 构成去中心化的虚拟目录，没有任何容器对象拥有它，归属只靠前缀匹配。
type ReportPoint struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Time     float64  `json:"time"` // 在周期中的位置（秒）
	AudioObj AudioObj `json:"audioObj"`
	Tags     []string `json:"tags"`
	Path     []string `json:"path"`
}

// NewReportPoint 创建报时点，name 为空时使用 id
func NewReportPoint(name string, offset float64, audioObj AudioObj, tags, path []string) *ReportPoint {
	return newReportPoint(UUIDGenerator{}, name, offset, audioObj, tags, path)
}

func newReportPoint(ids IDGenerator, name string, offset float64, audioObj AudioObj, tags, path []string) *ReportPoint {
	p := &ReportPoint{
		ID:       ids.New(),
		Time:     offset,
		AudioObj: audioObj,
		Tags:     []string{},
		Path:     clonePath(path),
	}
	p.Name = name
	if p.Name == "" {
		p.Name = p.ID
	}
	for _, tag := range tags {
		p.AddTag(tag)
	}
	return p
}

// SetAudioObj 替换音频对象
func (p *ReportPoint) SetAudioObj(audioObj AudioObj) {
	p.AudioObj = audioObj
}

// SetName 修改名称
func (p *ReportPoint) SetName(name string) {
	p.Name = name
}

// AddTag 添加标签，重复添加静默忽略
func (p *ReportPoint) AddTag(tag string) {
	if p.HasTag(tag) {
		return
	}
	p.Tags = append(p.Tags, tag)
}

// RemoveTag 删除标签
func (p *ReportPoint) RemoveTag(tag string) {
	p.Tags = slices.DeleteFunc(p.Tags, func(t string) bool { return t == tag })
}

// HasTag 精确匹配，区分大小写
func (p *ReportPoint) HasTag(tag string) bool {
	return slices.Contains(p.Tags, tag)
}

// ClearTags 清空标签
func (p *ReportPoint) ClearTags() {
	p.Tags = []string{}
}

// SetPath 替换虚拟目录路径
func (p *ReportPoint) SetPath(path []string) {
	p.Path = clonePath(path)
}

// InDir 判断 prefix 是否为 Path 的有序前缀，空前缀匹配一切
func (p *ReportPoint) InDir(prefix []string) bool {
	if len(prefix) > len(p.Path) {
		return false
	}
	for i, seg := range prefix {
		if p.Path[i] != seg {
			return false
		}
	}
	return true
}

// Copy 复制报时点，生成新的 id，标签和路径为深拷贝
func (p *ReportPoint) Copy() *ReportPoint {
	return NewReportPoint(p.Name, p.Time, p.AudioObj, p.Tags, p.Path)
}

func clonePath(path []string) []string {
	if path == nil {
		return []string{}
	}
	return slices.Clone(path)
}
