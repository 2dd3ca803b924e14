package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"UsefulTimer/config"
	"UsefulTimer/core/app"
	"UsefulTimer/logger"

	"github.com/gorilla/mux"
)

// corsMiddleware 允许浏览器前端跨域访问
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Disposition")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter 注册全部路由
func NewRouter(a *app.App) *mux.Router {
	h := NewAPIHandler(a)
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	// 计时器
	router.HandleFunc("/api/timers", h.ListTimersHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/timers", h.CreateTimerHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/timers/{id}", h.GetTimerHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/timers/{id}", h.UpdateTimerHandler).Methods(http.MethodPut)
	router.HandleFunc("/api/timers/{id}", h.DeleteTimerHandler).Methods(http.MethodDelete)
	router.HandleFunc("/api/timers/{id}/points", h.ListPointsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/timers/{id}/points", h.AddPointHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/timers/{id}/points/{pointId}", h.DeletePointHandler).Methods(http.MethodDelete)
	router.HandleFunc("/api/timers/{id}/mode/toggle", h.ToggleModeHandler).Methods(http.MethodPost)

	// 播放控制
	router.HandleFunc("/api/timers/{id}/start", h.StartTimerHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/timers/{id}/pause", h.PauseTimerHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/timers/{id}/stop", h.StopTimerHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/timers/{id}/status", h.TimerStatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/playback", h.ActivePlaybackHandler).Methods(http.MethodGet)

	// 音频（stats 和 silent 必须注册在 {id} 之前）
	router.HandleFunc("/api/assets", h.ListAssetsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/assets", h.CreateAssetHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/assets/stats", h.AssetStatsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/assets/silent", h.SilentAssetHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/assets/{id}", h.GetAssetHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/assets/{id}", h.DeleteAssetHandler).Methods(http.MethodDelete)

	// 音频模板
	router.HandleFunc("/api/templates", h.ListTemplatesHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/templates", h.CreateTemplateHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/templates/{id}", h.DeleteTemplateHandler).Methods(http.MethodDelete)

	// 数据管理
	router.HandleFunc("/api/stats", h.StatsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/export", h.ExportHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/import", h.ImportHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/health", h.HealthHandler).Methods(http.MethodGet)

	// 播放事件推送
	router.HandleFunc("/ws", a.Hub.ServeWS).Methods(http.MethodGet)

	// 预检请求只有匹配到路由时才会经过中间件
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	return router
}

// Start 初始化应用并启动 HTTP 服务，收到 SIGINT/SIGTERM 后优雅退出
func Start(cfg *config.Config) error {
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// 设置服务器超时
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      NewRouter(a),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", logger.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 等待中断信号或启动失败
	select {
	case <-stop:
	case err := <-errCh:
		return err
	}
	logger.Info("Shutting down server...")

	// 创建一个5秒超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
