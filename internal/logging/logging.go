package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"lcr-webgui/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05"

// New 按配置创建 logger. output 为 file 时写入 FilePath, 打开失败或未配置时写入 out
func New(cfg config.LogConfig, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	// 设置日志级别
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	// 设置日志格式
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}

	// 设置输出
	if cfg.Output == "file" && cfg.FilePath != "" {
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			log.SetOutput(file)
		} else {
			log.Warnf("打开日志文件失败: %v, 使用标准输出", err)
		}
	}

	return log
}
