package cmd

import (
	"UsefulTimer/server"

	"github.com/spf13/cobra"
)

var flagHTTPAddr string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动UsefulTimer服务器",
	Long:  `启动HTTP服务器，提供计时器管理、音频库和播放控制的API，以及推送播放事件的WebSocket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagHTTPAddr != "" {
			cfg.HTTPAddr = flagHTTPAddr
		}
		return server.Start(cfg)
	},
}

func init() {
	serverCmd.Flags().StringVar(&flagHTTPAddr, "addr", "", "监听地址，覆盖 HTTP_ADDR")
	rootCmd.AddCommand(serverCmd)
}
