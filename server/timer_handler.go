package server

import (
	"net/http"
	"strings"

	"UsefulTimer/logger"
	"UsefulTimer/model"

	"github.com/gorilla/mux"
)

// timerRequest 创建和修改计时器的请求，修改时只更新出现的字段
type timerRequest struct {
	Name      *string  `json:"name"`
	CycleTime *float64 `json:"cycleTime"`
	Mode      *string  `json:"mode"`
	PlayTimes *int     `json:"playTimes"`
}

func (req timerRequest) apply(t *model.Timer) error {
	if req.Name != nil {
		t.SetName(*req.Name)
	}
	if req.CycleTime != nil {
		if err := t.SetCycleTime(*req.CycleTime); err != nil {
			return err
		}
	}
	if req.Mode != nil {
		mode, err := model.ParseMode(*req.Mode)
		if err != nil {
			return err
		}
		if err := t.SetMode(mode); err != nil {
			return err
		}
	}
	if req.PlayTimes != nil {
		if err := t.SetPlayTimes(*req.PlayTimes); err != nil {
			return err
		}
	}
	return nil
}

// pointRequest 添加报时点。templateId 优先于 audioId。
type pointRequest struct {
	Name       string   `json:"name"`
	Time       float64  `json:"time"`
	AudioID    string   `json:"audioId"`
	TemplateID string   `json:"templateId"`
	Tags       []string `json:"tags"`
	Path       []string `json:"path"`
}

func timerRecords(timers []*model.Timer) []model.TimerRecord {
	out := make([]model.TimerRecord, 0, len(timers))
	for _, t := range timers {
		out = append(out, t.ToRecord())
	}
	return out
}

func pointRecords(points []*model.ReportPoint) []model.ReportPointRecord {
	out := make([]model.ReportPointRecord, 0, len(points))
	for _, p := range points {
		out = append(out, p.ToRecord())
	}
	return out
}

// loadTimer 读取路由中的计时器，不存在时返回 ErrNotFound
func (h *APIHandler) loadTimer(r *http.Request) (*model.Timer, error) {
	id := mux.Vars(r)["id"]
	timer, err := h.app.Data.Timers.GetTimer(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if timer == nil {
		return nil, notFound("timer", id)
	}
	return timer, nil
}

// ListTimersHandler 列出全部计时器
func (h *APIHandler) ListTimersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, timerRecords(h.app.Data.Timers.ListTimers(r.Context())))
}

// CreateTimerHandler 创建计时器
func (h *APIHandler) CreateTimerHandler(w http.ResponseWriter, r *http.Request) {
	var req timerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	name := ""
	if req.Name != nil {
		name = *req.Name
	}
	cycle := 0.0
	if req.CycleTime != nil {
		if *req.CycleTime <= 0 {
			writeError(w, r, model.NewValidationError("cycleTime", "must be positive"))
			return
		}
		cycle = *req.CycleTime
	}
	timer := model.NewTimer(name, cycle)
	req.Name, req.CycleTime = nil, nil
	if err := req.apply(timer); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.app.Data.Timers.SaveTimer(r.Context(), timer); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info("Timer created", logger.String("timerId", timer.ID), logger.String("name", timer.Name))
	writeJSON(w, http.StatusCreated, timer.ToRecord())
}

// GetTimerHandler 获取计时器
func (h *APIHandler) GetTimerHandler(w http.ResponseWriter, r *http.Request) {
	timer, err := h.loadTimer(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timer.ToRecord())
}

// UpdateTimerHandler 修改计时器名称、周期、模式或循环次数。正在运行的副本不受影响，下次启动生效。
func (h *APIHandler) UpdateTimerHandler(w http.ResponseWriter, r *http.Request) {
	var req timerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	timer, ok := h.updateTimer(w, r, req.apply)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, timer.ToRecord())
}

// DeleteTimerHandler 删除计时器，正在运行时先停止
func (h *APIHandler) DeleteTimerHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.app.Scheduler.Forget(r.Context(), id)

	deleted, err := h.app.Data.Timers.DeleteTimer(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, r, notFound("timer", id))
		return
	}
	logger.Info("Timer deleted", logger.String("timerId", id))
	w.WriteHeader(http.StatusNoContent)
}

// updateTimer 在存储锁内修改路由中的计时器，并发的修改不会互相覆盖。
// 失败时已经写好响应，返回 false。
func (h *APIHandler) updateTimer(w http.ResponseWriter, r *http.Request, fn func(*model.Timer) error) (*model.Timer, bool) {
	id := mux.Vars(r)["id"]
	timer, err := h.app.Data.Timers.UpdateTimer(r.Context(), id, fn)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if timer == nil {
		writeError(w, r, notFound("timer", id))
		return nil, false
	}
	return timer, true
}

// AddPointHandler 添加报时点
func (h *APIHandler) AddPointHandler(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	audioObj := model.EmptyAudioObj()
	switch {
	case req.TemplateID != "":
		tpl, err := h.app.Data.Templates.GetTemplate(r.Context(), req.TemplateID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if tpl == nil {
			writeError(w, r, model.NewValidationError("templateId", "template "+req.TemplateID+" does not exist"))
			return
		}
		audioObj = model.NewAudioObj(*tpl)
	case req.AudioID != "":
		audioObj = model.NewAudioObj(model.NewAudioObjTemplate(req.Name, req.AudioID, ""))
	}

	var point *model.ReportPoint
	_, ok := h.updateTimer(w, r, func(timer *model.Timer) error {
		point = timer.NewPoint(req.Name, req.Time, audioObj, req.Tags, req.Path)
		return timer.AddReportTime(point)
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, point.ToRecord())
}

// DeletePointHandler 删除报时点
func (h *APIHandler) DeletePointHandler(w http.ResponseWriter, r *http.Request) {
	pointID := mux.Vars(r)["pointId"]
	_, ok := h.updateTimer(w, r, func(timer *model.Timer) error {
		if !timer.RemoveReportTimeByID(pointID) {
			return notFound("report point", pointID)
		}
		return nil
	})
	if !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPointsHandler 列出报时点，?tag= 按标签，?path=a/b 按目录前缀
func (h *APIHandler) ListPointsHandler(w http.ResponseWriter, r *http.Request) {
	timer, err := h.loadTimer(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	query := r.URL.Query()
	points := timer.ReportTime
	if tag := query.Get("tag"); tag != "" {
		points = timer.GetReportTimesByTag(tag)
	} else if query.Has("path") {
		points = timer.GetReportTimesByPath(splitPath(query.Get("path")))
	}
	writeJSON(w, http.StatusOK, pointRecords(points))
}

func splitPath(p string) []string {
	segments := make([]string, 0)
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

// ToggleModeHandler 切换播放模式
func (h *APIHandler) ToggleModeHandler(w http.ResponseWriter, r *http.Request) {
	timer, ok := h.updateTimer(w, r, func(timer *model.Timer) error {
		timer.ToggleMode()
		return nil
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, timer.ToRecord())
}

// StartTimerHandler 启动或恢复
func (h *APIHandler) StartTimerHandler(w http.ResponseWriter, r *http.Request) {
	status, err := h.app.Scheduler.Start(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// PauseTimerHandler 暂停
func (h *APIHandler) PauseTimerHandler(w http.ResponseWriter, r *http.Request) {
	status, err := h.app.Scheduler.Pause(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// StopTimerHandler 停止
func (h *APIHandler) StopTimerHandler(w http.ResponseWriter, r *http.Request) {
	status, err := h.app.Scheduler.Stop(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// TimerStatusHandler 播放状态
func (h *APIHandler) TimerStatusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := h.app.Scheduler.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ActivePlaybackHandler 所有运行中或暂停的计时器
func (h *APIHandler) ActivePlaybackHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Scheduler.ActiveAll(r.Context()))
}
