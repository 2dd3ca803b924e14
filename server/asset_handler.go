package server

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"UsefulTimer/logger"
	"UsefulTimer/model"

	"github.com/gorilla/mux"
)

// ListAssetsHandler 列出全部音频 id
func (h *APIHandler) ListAssetsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ids": h.app.Data.Assets.GetAllIDs(r.Context())})
}

// CreateAssetHandler 上传音频。multipart 表单读取 file 字段，JSON 请求体 {"url": ...} 从远程下载。
func (h *APIHandler) CreateAssetHandler(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		h.uploadAsset(w, r)
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.URL == "" {
		writeError(w, r, model.NewValidationError("url", "url is required"))
		return
	}
	id, err := h.app.Downloader.DownloadFromURL(r.Context(), req.URL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *APIHandler) uploadAsset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r, model.NewValidationError("file", "invalid multipart form: "+err.Error()))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, model.NewValidationError("file", "file field is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, model.NewValidationError("file", "failed to read upload: "+err.Error()))
		return
	}
	contentType := header.Header.Get("Content-Type")
	if ct := r.FormValue("contentType"); ct != "" {
		contentType = ct
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.TypeByExtension(path.Ext(header.Filename))
	}

	id, err := h.app.Downloader.UploadFromFile(r.Context(), header.Filename, contentType, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// SilentAssetHandler 合成一秒静音音频
func (h *APIHandler) SilentAssetHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, model.NewValidationError("name", "name is required"))
		return
	}
	id, err := h.app.Synth.GenerateSilentAudio(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// GetAssetHandler 返回原始音频字节，客户端收到 cue 后按这个地址播放
func (h *APIHandler) GetAssetHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	asset, err := h.app.Data.Assets.GetAudio(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if asset == nil {
		writeError(w, r, notFound("audio", id))
		return
	}

	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(asset.Size()))
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	if _, err := w.Write(asset.Payload); err != nil {
		logger.Warn("Error serving audio", logger.String("id", id), logger.ErrorField(err))
	}
}

// DeleteAssetHandler 删除音频，引用它的模板保持不变
func (h *APIHandler) DeleteAssetHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	deleted, err := h.app.Data.Assets.DeleteAudio(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.app.Resolver.Forget(id)
	if !deleted {
		writeError(w, r, notFound("audio", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AssetStatsHandler 音频数量和占用
func (h *APIHandler) AssetStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Data.Assets.GetStats(r.Context()))
}

// ListTemplatesHandler 列出音频模板
func (h *APIHandler) ListTemplatesHandler(w http.ResponseWriter, r *http.Request) {
	templates := h.app.Data.Templates.ListTemplates(r.Context())
	out := make([]model.AudioTemplateRecord, 0, len(templates))
	for _, tpl := range templates {
		out = append(out, tpl.ToRecord())
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateTemplateHandler 创建或覆盖音频模板
func (h *APIHandler) CreateTemplateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UUID    string `json:"uuid"`
		Name    string `json:"name"`
		AudioID string `json:"audioId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	tpl := model.NewAudioObjTemplate(req.Name, req.AudioID, req.UUID)
	if err := h.app.Data.Templates.SaveTemplate(r.Context(), &tpl); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl.ToRecord())
}

// DeleteTemplateHandler 删除音频模板
func (h *APIHandler) DeleteTemplateHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	deleted, err := h.app.Data.Templates.DeleteTemplate(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, r, notFound("template", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
