package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"UsefulTimer/core/playback"
	"UsefulTimer/model"

	"github.com/spf13/cobra"
)

var timerCmd = &cobra.Command{
	Use:   "timer",
	Short: "管理和运行计时器",
}

var timerListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出全部计时器",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCYCLE\tMODE\tPOINTS\tUPDATED")
		for _, t := range a.Data.Timers.ListTimers(cmd.Context()) {
			mode := t.Mode.String()
			if t.Mode == model.ModeLoop {
				mode = fmt.Sprintf("%s(%d)", mode, t.PlayTimes)
			}
			fmt.Fprintf(tw, "%s\t%s\t%gs\t%s\t%d\t%s\n",
				t.ID, t.Name, t.CycleTime, mode, len(t.ReportTime), t.UpdatedAt.Format(time.DateTime))
		}
		return tw.Flush()
	},
}

var (
	flagTimerName  string
	flagTimerCycle float64
	flagTimerMode  string
	flagTimerPlays int
	flagTimerAt    []string
)

// parsePointFlag 解析 --at 参数：offset[:name[:audioId]]
func parsePointFlag(t *model.Timer, arg string) (*model.ReportPoint, error) {
	parts := strings.SplitN(arg, ":", 3)
	var offset float64
	if _, err := fmt.Sscanf(parts[0], "%g", &offset); err != nil {
		return nil, model.NewValidationError("at", fmt.Sprintf("invalid offset %q", parts[0]))
	}
	name := ""
	if len(parts) > 1 {
		name = parts[1]
	}
	audioObj := model.EmptyAudioObj()
	if len(parts) > 2 && parts[2] != "" {
		audioObj = model.NewAudioObj(model.NewAudioObjTemplate(name, parts[2], ""))
	}
	return t.NewPoint(name, offset, audioObj, nil, nil), nil
}

var timerCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "创建计时器",
	Example: `  usefultimer timer create --name pomodoro --cycle 1500 --mode loop --plays 4 \
    --at 0:start --at 1200:break:<audioId>`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timer := model.NewTimer(flagTimerName, flagTimerCycle)
		mode, err := model.ParseMode(flagTimerMode)
		if err != nil {
			return err
		}
		if err := timer.SetMode(mode); err != nil {
			return err
		}
		if err := timer.SetPlayTimes(flagTimerPlays); err != nil {
			return err
		}
		for _, arg := range flagTimerAt {
			point, err := parsePointFlag(timer, arg)
			if err != nil {
				return err
			}
			if err := timer.AddReportTime(point); err != nil {
				return err
			}
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Data.Timers.SaveTimer(cmd.Context(), timer); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), timer.ID)
		return nil
	},
}

var flagRunFor time.Duration

// lockedWriter 事件回调来自多个 goroutine
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

var timerRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "在前台运行计时器，完成、超时或 Ctrl-C 时退出",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		out := &lockedWriter{w: cmd.OutOrStdout()}
		done := make(chan struct{})
		var once sync.Once
		a.Scheduler.AddObserver(func(e playback.Event) {
			if e.TimerID != args[0] {
				return
			}
			switch e.Type {
			case playback.EventFire:
				fmt.Fprintf(out, "[%s] 报时 %s (第 %d 周期, %gs)\n",
					e.At.Format(time.TimeOnly), e.Fire.Name, e.Fire.Cycle+1, e.Fire.Offset)
			case playback.EventSkip:
				fmt.Fprintf(out, "[%s] 跳过 %s: %s\n", e.At.Format(time.TimeOnly), e.Fire.Name, e.Error)
			case playback.EventState:
				if e.Completed {
					once.Do(func() { close(done) })
				}
			}
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if flagRunFor > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, flagRunFor)
			defer cancel()
		}

		status, err := a.Scheduler.Start(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "开始运行 %s，周期 %gs，模式 %s\n", status.TimerID, status.CycleTime, status.Mode)

		select {
		case <-done:
			fmt.Fprintln(out, "计时器已完成")
		case <-ctx.Done():
			if _, err := a.Scheduler.Stop(args[0]); err == nil {
				fmt.Fprintln(out, "计时器已停止")
			}
		}
		return nil
	},
}

var timerCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "同名计时器只保留最近修改的一个",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.Data.Timers.CleanupDuplicateTimers(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已删除 %d 个重复的计时器\n", removed)
		return nil
	},
}

func init() {
	timerCreateCmd.Flags().StringVar(&flagTimerName, "name", "", "名称，默认使用 id")
	timerCreateCmd.Flags().Float64Var(&flagTimerCycle, "cycle", model.DefaultCycleTime, "周期（秒）")
	timerCreateCmd.Flags().StringVar(&flagTimerMode, "mode", "infinite", "模式 (once|loop|infinite)")
	timerCreateCmd.Flags().IntVar(&flagTimerPlays, "plays", model.DefaultPlayTimes, "loop 模式的循环次数")
	timerCreateCmd.Flags().StringArrayVar(&flagTimerAt, "at", nil, "报时点 offset[:name[:audioId]]，可重复")
	timerRunCmd.Flags().DurationVar(&flagRunFor, "for", 0, "最长运行时间，0 表示不限")

	timerCmd.AddCommand(timerListCmd, timerCreateCmd, timerRunCmd, timerCleanupCmd)
	rootCmd.AddCommand(timerCmd)
}
