package app

import (
	"context"
	"fmt"
	"net/url"

	"UsefulTimer/cache"
	"UsefulTimer/config"
	"UsefulTimer/core/audio"
	"UsefulTimer/core/notify"
	"UsefulTimer/core/playback"
	"UsefulTimer/db"
	"UsefulTimer/logger"
	"UsefulTimer/model"
	"UsefulTimer/repository"
	"UsefulTimer/storage"

	"github.com/go-redis/redis/v8"
)

// App 应用的全部组件。一次 New 创建一份，不使用包级单例。
type App struct {
	Config     *config.Config
	KV         storage.KV
	Store      *repository.Store
	Data       *repository.DataManager
	Resolver   *audio.Resolver
	Synth      *audio.Synthesizer
	Downloader *audio.Downloader
	Hub        *notify.Hub
	Scheduler  *Scheduler

	redis   *redis.Client
	closers []func() error
	cancel  context.CancelFunc
}

// Option 创建 App 时的可选项
type Option func(*App)

// WithFetcher 替换下载远程音频使用的 Fetcher
func WithFetcher(f audio.Fetcher) Option {
	return func(a *App) {
		a.Downloader = audio.NewDownloader(a.Data.Assets, f, 0)
	}
}

// AudioURL 客户端下载音频的地址
func AudioURL(audioID string) string {
	return "/api/assets/" + url.PathEscape(audioID)
}

// New 按配置打开存储后端并组装各组件
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{Config: cfg}
	kv, err := a.openKV(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.KV = kv

	a.Store = repository.NewStore(kv)
	migrated, err := a.Store.Migrate(ctx)
	if err != nil {
		logger.Warn("命名空间迁移失败，保留原始数据", logger.ErrorField(err))
	} else if migrated > 0 {
		logger.Info("已迁移旧格式命名空间", logger.Int("count", migrated))
	}

	a.Data = repository.NewDataManager(a.Store, model.UUIDGenerator{}, model.RealClock{})
	a.Resolver = audio.NewResolver(a.Data.Assets)
	a.Synth = audio.NewSynthesizer(a.Data.Assets, cfg.SampleRate)
	a.Downloader = audio.NewDownloader(a.Data.Assets, audio.NewHTTPFetcher(cfg.FetchTimeout), 0)

	a.Hub = notify.NewHub()
	go a.Hub.Run()

	missing := playback.SkipMissing
	if cfg.MissingAudio == config.MissingAudioSilent {
		missing = playback.FallbackSilent
	}
	a.Scheduler = NewScheduler(a.Data.Timers, playback.Options{
		TickInterval: cfg.TickInterval,
		MissingAudio: missing,
		Player:       playback.MultiPlayer{playback.LogPlayer{}, notify.NewPlayer(a.Hub, AudioURL)},
		Resolver:     a.Resolver,
		Silence:      a.Synth,
	})
	a.Scheduler.AddObserver(a.Hub.Observe)
	if a.redis != nil {
		a.Scheduler.SetPlaybackCache(cache.NewPlaybackCache(a.redis, cfg.RedisPrefix))
	}

	for _, opt := range opts {
		opt(a)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if fkv, ok := kv.(*storage.FileKV); ok {
		go a.watch(watchCtx, fkv)
	}

	logger.Info("UsefulTimer 初始化完成",
		logger.String("backend", cfg.StoreBackend),
		logger.String("missingAudio", cfg.MissingAudio))
	return a, nil
}

// openKV 按 STORE_BACKEND 创建键值存储
func (a *App) openKV(ctx context.Context) (storage.KV, error) {
	cfg := a.Config
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return storage.NewMemoryKV(), nil

	case config.BackendFile:
		return storage.OpenFileKV(cfg.StoreFile)

	case config.BackendRedis:
		client, err := cache.ConnectRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
		return cache.NewRedisKV(client, cfg.RedisPrefix), nil

	case config.BackendMySQL:
		gdb, err := db.ConnectGormDB(cfg)
		if err != nil {
			return nil, err
		}
		kv, err := db.NewGormKV(gdb)
		if err != nil {
			if sqlDB, derr := gdb.DB(); derr == nil {
				sqlDB.Close()
			}
			return nil, err
		}
		a.closers = append(a.closers, kv.Close)
		return kv, nil

	case config.BackendMinio:
		return storage.NewMinioKV(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// watch 存储文件被外部修改后清空音频缓存并通知客户端
func (a *App) watch(ctx context.Context, fkv *storage.FileKV) {
	err := fkv.Watch(ctx, func() {
		a.Resolver.Reset()
		for _, key := range repository.AllKeys {
			a.Hub.StoreChanged(key)
		}
	})
	if err != nil {
		logger.Warn("存储文件监听失败", logger.String("path", fkv.Path()), logger.ErrorField(err))
	}
}

// Ping 检查存储后端是否可用
func (a *App) Ping(ctx context.Context) error {
	return storage.Ping(ctx, a.KV)
}

// Close 停止所有计时器并释放连接
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.StopAll()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}
	var first error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
