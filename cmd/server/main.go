package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lcr-webgui/internal/config"
	"lcr-webgui/internal/logging"
	"lcr-webgui/internal/server"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

func main() {
	// 命令行参数
	configFile := flag.String("config", "configs/config.yaml", "配置文件路径")
	showVersion := flag.Bool("version", false, "显示版本信息")
	flag.Parse()

	if *showVersion {
		fmt.Printf("LCR Panel Server v%s (Build: %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		cfg = config.GetDefaultConfig()
		fmt.Println("使用默认配置")
	}

	log := logging.New(cfg.Log, os.Stdout)
	log.Infof("LCR Panel Server v%s 启动中...", Version)
	log.Infof("配置文件: %s", *configFile)

	srv, err := server.NewServer(cfg, log)
	if err != nil {
		log.Fatalf("创建服务器失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("服务运行失败: %v", err)
	}
}
