package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"lcr-webgui/internal/logpoll"
	"lcr-webgui/internal/panel"
)

var errCommandsFailed = errors.New("部分命令未得到确认")

var (
	flagIDString string
	flagMaxPos   string
	flagSensors  string
	flagDuration string
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Set the pendulum ID string and maximum position",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := connect(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.panel.Calibrate(ctx, panel.CalibrationForm{
			IDString:    flagIDString,
			MaxPosition: flagMaxPos,
		})
		printView(cmd.OutOrStdout(), a.panel.Display().View())
		if err != nil {
			return err
		}
		if !result.OK() {
			return errCommandsFailed
		}
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an experiment on the sensor array",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		err = a.panel.SubmitExperiment(panel.ExperimentForm{
			NumSensors: flagSensors,
			Duration:   flagDuration,
		})
		printView(cmd.OutOrStdout(), a.panel.Display().View())
		return err
	},
}

var moveCmd = &cobra.Command{
	Use:       "move {origin|forward|photodiode}",
	Short:     "Move the pendulum",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"origin", "forward", "photodiode"},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		switch args[0] {
		case "origin":
			return a.panel.GoToOrigin()
		case "forward":
			return a.panel.MoveForward()
		default:
			return a.panel.MoveToPhotodiode()
		}
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <command...>",
	Short: "Send a raw command to the instrument controller",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.panel.SendCommand(strings.Join(args, " "))
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print instrument output as it arrives",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := connect(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		cancel := a.sess.Subscribe(func(chunk string) {
			fmt.Fprintln(out, chunk)
		})
		defer cancel()

		select {
		case <-ctx.Done():
		case <-a.sess.Done():
			log.Warn("连接已断开")
		}
		return nil
	},
}

var tailLogCmd = &cobra.Command{
	Use:   "tail-log",
	Short: "Poll the server for the device log and print changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		last := ""
		poller := logpoll.New(logpoll.Options{
			URL:      cfg.Panel.LogURL,
			FName:    cfg.Panel.LogFile,
			Interval: cfg.Panel.LogPollInterval,
			Log:      log,
		}, func(contents string) {
			if contents == last {
				return
			}
			// 只输出新增部分, 文件被截断时整体重新输出
			if strings.HasPrefix(contents, last) {
				fmt.Fprint(out, contents[len(last):])
			} else {
				fmt.Fprint(out, contents)
			}
			last = contents
		})

		if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	calibrateCmd.Flags().StringVar(&flagIDString, "id-string", "", "摆锤 ID 字符串")
	calibrateCmd.Flags().StringVar(&flagMaxPos, "max-pos", "", "最大位置")

	startCmd.Flags().StringVar(&flagSensors, "sensors", "", "传感器数量")
	startCmd.Flags().StringVar(&flagDuration, "duration", "", "实验时长（秒）")
}
