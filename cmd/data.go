package cmd

import (
	"fmt"

	"UsefulTimer/core/utils"

	"github.com/spf13/cobra"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "统计、导入导出和清理持久化数据",
}

var dataStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "按命名空间显示条目数和占用",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return printJSON(cmd, a.Data.StorageStats(cmd.Context()))
	},
}

var (
	flagExportAudio bool
	flagExportOut   string
)

var dataExportCmd = &cobra.Command{
	Use:   "export",
	Short: "导出计时器、模板和配置",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		data, err := a.Data.ExportAllData(cmd.Context(), flagExportAudio)
		if err != nil {
			return err
		}
		return utils.WriteFileOrStdout(flagExportOut, data, cmd.OutOrStdout())
	},
}

var dataImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "导入导出文件，\"-\" 表示标准输入；文件中缺失的部分保持不变",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := utils.ReadFileOrStdin(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Data.ImportAllData(cmd.Context(), raw); err != nil {
			return err
		}
		return printJSON(cmd, a.Data.StorageStats(cmd.Context()))
	},
}

var dataClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "清空计时器、模板和配置（不含音频库）",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !flagYes {
			return fmt.Errorf("refusing to clear data without --yes")
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Data.ClearAllData(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "已清空")
		return nil
	},
}

func init() {
	dataExportCmd.Flags().BoolVar(&flagExportAudio, "audio", false, "同时导出音频库")
	dataExportCmd.Flags().StringVarP(&flagExportOut, "output", "o", utils.StdioPath, "输出文件")
	dataClearCmd.Flags().BoolVar(&flagYes, "yes", false, "确认清空")

	dataCmd.AddCommand(dataStatsCmd, dataExportCmd, dataImportCmd, dataClearCmd)
	rootCmd.AddCommand(dataCmd)
}
