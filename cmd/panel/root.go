package main

import (
	"context"
	"fmt"
	"html"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"lcr-webgui/internal/config"
	"lcr-webgui/internal/correlator"
	"lcr-webgui/internal/i18n"
	"lcr-webgui/internal/logging"
	"lcr-webgui/internal/panel"
	"lcr-webgui/internal/session"
)

var (
	// 全局参数
	flagConfig   string
	flagEndpoint string
	flagLocale   string
	flagScan     string
	flagVerbose  bool

	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "panel",
	Short: "TH2816B LCR meter control panel",
	Long: `panel talks to the instrument controller over the panel WebSocket.

Calibration commands wait for the controller's "<param> ... OK" line and
report every command that did not answer in time. Motion and experiment
commands are sent without waiting.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(flagConfig)
		if err != nil {
			return err
		}
		if flagEndpoint != "" {
			loaded.Panel.Endpoint = flagEndpoint
		}
		if flagLocale != "" {
			loaded.Panel.Locale = flagLocale
		}
		if flagScan != "" {
			loaded.Panel.ScanPolicy = flagScan
		}
		if flagVerbose {
			loaded.Log.Level = "debug"
		}
		cfg = loaded
		log = logging.New(cfg.Log, cmd.ErrOrStderr())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", envOrDefault("LCR_PANEL_CONFIG", ""), "配置文件路径 (默认使用内置配置)")
	rootCmd.PersistentFlags().StringVar(&flagEndpoint, "endpoint", envOrDefault("LCR_PANEL_ENDPOINT", ""), "WebSocket 地址, 例如 ws://localhost:8080/ws")
	rootCmd.PersistentFlags().StringVar(&flagLocale, "locale", "", "界面语言: en, pt")
	rootCmd.PersistentFlags().StringVar(&flagScan, "scan", "", "响应扫描范围: whole, forward")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "输出调试日志")

	rootCmd.AddCommand(calibrateCmd, startCmd, moveCmd, sendCmd, watchCmd, tailLogCmd, settingsCmd)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.GetDefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

// app 一次命令执行所需的会话和面板
type app struct {
	sess  *session.Session
	panel *panel.Panel
}

func (a *app) Close() {
	a.sess.Close()
}

func connect(ctx context.Context) (*app, error) {
	endpoint, err := session.ParseEndpoint(cfg.Panel.Endpoint)
	if err != nil {
		return nil, err
	}
	policy, err := correlator.ParseScanPolicy(cfg.Panel.ScanPolicy)
	if err != nil {
		return nil, err
	}
	tr, err := i18n.New(cfg.Panel.Locale, cfg.Panel.FallbackLocale)
	if err != nil {
		return nil, err
	}

	sess, err := session.Open(ctx, endpoint, session.Options{Log: log})
	if err != nil {
		return nil, err
	}
	log.Debugf("已连接: %s", endpoint.URL())

	corr := correlator.New(sess, correlator.Options{
		PollInterval: cfg.Panel.PollInterval,
		MaxAttempts:  cfg.Panel.MaxAttempts,
		Policy:       policy,
		Log:          log,
	})
	p := panel.New(sess, corr, panel.NewDisplay(tr), panel.Options{
		Pacing: cfg.Panel.Pacing,
		Log:    log,
	})
	return &app{sess: sess, panel: p}, nil
}

// printView 把提示区和弹窗以纯文本输出
func printView(w io.Writer, v panel.View) {
	if v.OKVisible {
		fmt.Fprintln(w, v.OKText)
	}
	if v.AlertVisible {
		fmt.Fprintln(w, v.AlertTitle)
		text := strings.ReplaceAll(v.AlertHTML, "<br>", "\n")
		fmt.Fprint(w, html.UnescapeString(text))
	}
	if v.Modal != panel.ModalNone {
		fmt.Fprintln(w, v.ModalText)
	}
}
