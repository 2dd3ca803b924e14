package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"UsefulTimer/logger"
	"UsefulTimer/model"
)

// StatsHandler 各命名空间统计
func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Data.StorageStats(r.Context()))
}

// ExportHandler 导出全部数据，?audio=true 时包含音频
func (h *APIHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	includeAudio, _ := strconv.ParseBool(r.URL.Query().Get("audio"))
	data, err := h.app.Data.ExportAllData(r.Context(), includeAudio)
	if err != nil {
		writeError(w, r, err)
		return
	}

	filename := fmt.Sprintf("usefultimer-%s.json", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

// ImportHandler 导入数据，出现的部分整体替换
func (h *APIHandler) ImportHandler(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, r, model.NewValidationError("body", "failed to read body: "+err.Error()))
		return
	}
	if err := h.app.Data.ImportAllData(r.Context(), raw); err != nil {
		writeError(w, r, err)
		return
	}
	h.app.Resolver.Reset()
	logger.Info("Data imported", logger.Int("size", len(raw)))
	writeJSON(w, http.StatusOK, h.app.Data.StorageStats(r.Context()))
}

// HealthHandler 检查存储后端
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": h.app.Config.StoreBackend})
}
