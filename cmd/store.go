package cmd

import (
	"fmt"
	"time"

	"UsefulTimer/storage"

	"github.com/spf13/cobra"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "检查存储后端",
}

var storePingCmd = &cobra.Command{
	Use:   "ping",
	Short: "检查存储后端是否可用",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Ping(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", cfg.StoreBackend)

		if m, ok := a.KV.(*storage.MinioKV); ok {
			stats, err := m.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "对象数: %d\n总大小: %d 字节\n最后修改: %s\n",
				stats.TotalObjects, stats.TotalSize, stats.LastModified.Format(time.DateTime))
		}
		return nil
	},
}

var storeMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "把旧格式的命名空间改写为当前格式",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		// New 已经迁移过一次，这里再跑一遍只为报告结果
		n, err := a.Store.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已迁移 %d 个命名空间\n", n)
		return nil
	},
}

func init() {
	storeCmd.AddCommand(storePingCmd, storeMigrateCmd)
	rootCmd.AddCommand(storeCmd)
}
