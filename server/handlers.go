package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"UsefulTimer/core/app"
	"UsefulTimer/core/audio"
	"UsefulTimer/core/playback"
	"UsefulTimer/logger"
	"UsefulTimer/model"
)

// maxBodySize 请求体上限，导入文件和上传的音频都受它限制
const maxBodySize = 64 << 20

// APIHandler 处理所有API请求
type APIHandler struct {
	app *app.App
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(a *app.App) *APIHandler {
	return &APIHandler{app: a}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

// statusFor 错误到状态码：输入错误 400，不存在 404，状态冲突 409，远程失败 502，其余 500
func statusFor(err error) int {
	var statusErr *audio.StatusError
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, playback.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &statusErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.ErrorField(err))
	} else {
		logger.Debug("request rejected",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.ErrorField(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeJSON 解析请求体，格式错误按输入错误处理
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewValidationError("body", "request body is empty")
		}
		return model.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
}
