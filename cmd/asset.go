package cmd

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"

	"UsefulTimer/core/utils"

	"github.com/spf13/cobra"
)

var assetCmd = &cobra.Command{
	Use:   "asset",
	Short: "管理音频库",
}

var assetListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出全部音频 id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, id := range a.Data.Assets.GetAllIDs(cmd.Context()) {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var assetStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "显示音频数量和占用",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		stats := a.Data.Assets.GetStats(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "音频数量: %d\n占用(base64): %d 字节\n", stats.Count, stats.TotalEncodedSize)
		return nil
	},
}

var assetSilentCmd = &cobra.Command{
	Use:   "silent <name>",
	Short: "合成一秒静音 WAV 并保存",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.Synth.GenerateSilentAudio(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var assetDownloadCmd = &cobra.Command{
	Use:   "download <url>...",
	Short: "下载远程音频，单个失败不影响其他",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		failed := 0
		for _, res := range a.Downloader.DownloadMultiple(cmd.Context(), args) {
			if res.Err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s\t失败: %v\n", res.URL, res.Err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", res.URL, res.ID)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d downloads failed", failed, len(args))
		}
		return nil
	},
}

var flagUploadContentType string

var assetUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "保存本地音频文件，\"-\" 表示标准输入",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := utils.ReadFileOrStdin(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		contentType := flagUploadContentType
		if contentType == "" {
			contentType = mime.TypeByExtension(filepath.Ext(args[0]))
		}
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.Downloader.UploadFromFile(cmd.Context(), filepath.Base(args[0]), contentType, data)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var assetDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "删除音频，引用它的模板保持不变",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		deleted, err := a.Data.Assets.DeleteAudio(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("audio %s not found", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), "已删除", args[0])
		return nil
	},
}

var flagYes bool

var assetClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "清空音频库",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !flagYes {
			return fmt.Errorf("refusing to clear the audio library without --yes")
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		before := a.Data.Assets.GetStats(cmd.Context())
		if err := a.Data.Assets.ClearAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已清空 %d 个音频\n", before.Count)
		return nil
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func init() {
	assetUploadCmd.Flags().StringVar(&flagUploadContentType, "content-type", "", "内容类型，默认按扩展名推断")
	assetClearCmd.Flags().BoolVar(&flagYes, "yes", false, "确认清空")

	assetCmd.AddCommand(assetListCmd, assetStatsCmd, assetSilentCmd, assetDownloadCmd,
		assetUploadCmd, assetDeleteCmd, assetClearCmd)
	rootCmd.AddCommand(assetCmd)
}
