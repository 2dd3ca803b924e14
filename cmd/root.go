package cmd

import (
	"fmt"
	"os"

	"UsefulTimer/config"
	"UsefulTimer/core/app"
	"UsefulTimer/logger"

	"github.com/spf13/cobra"
)

var (
	cfg *config.Config

	flagBackend   string
	flagStoreFile string
	flagLogLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "usefultimer",
	Short: "UsefulTimer 是一个按周期播放报时音频的计时服务。",
	Long: `UsefulTimer 按周期循环计时，在周期内的固定时刻播放提示音。
不带子命令时启动 HTTP 服务。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if flagBackend != "" {
			cfg.StoreBackend = flagBackend
		}
		if flagStoreFile != "" {
			cfg.StoreFile = flagStoreFile
		}
		if flagLogLevel != "" {
			cfg.LogLevel = flagLogLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return logger.InitLogger(logger.Config{
			Level:      logger.ParseLevel(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAge,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serverCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "存储后端 (memory|file|redis|mysql|minio)，覆盖 STORE_BACKEND")
	rootCmd.PersistentFlags().StringVar(&flagStoreFile, "store-file", "", "file 后端的 JSON 文件，覆盖 STORE_FILE")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "日志级别，覆盖 LOG_LEVEL")
}

// openApp 按当前配置创建应用，调用方负责 Close
func openApp(cmd *cobra.Command) (*app.App, error) {
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
