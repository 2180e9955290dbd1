package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Instrument InstrumentConfig `yaml:"instrument"`
	Panel      PanelConfig      `yaml:"panel"`
	Redis      RedisConfig      `yaml:"redis"`
	Log        LogConfig        `yaml:"log"`
	Monitor    MonitorConfig    `yaml:"monitor"`
}

// ServerConfig HTTP/WebSocket 服务
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	WSPath       string        `yaml:"ws_path"`
	LogDir       string        `yaml:"log_dir"`
	SettingsFile string        `yaml:"settings_file"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxClients   int           `yaml:"max_clients"`
}

// InstrumentConfig 仪器控制器 TCP 链路（串口转 TCP）
type InstrumentConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	MaxConnections int           `yaml:"max_connections"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	BufferSize     int           `yaml:"buffer_size"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	DeviceLog      string        `yaml:"device_log"`
}

// PanelConfig 操作面板客户端
type PanelConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxAttempts     int           `yaml:"max_attempts"`
	Pacing          time.Duration `yaml:"pacing"`
	ScanPolicy      string        `yaml:"scan_policy"`
	LogURL          string        `yaml:"log_url"`
	FormURL         string        `yaml:"form_url"`
	LogFile         string        `yaml:"log_file"`
	LogPollInterval time.Duration `yaml:"log_poll_interval"`
	Locale          string        `yaml:"locale"`
	FallbackLocale  string        `yaml:"fallback_locale"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Channel  string `yaml:"channel"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitorConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoadConfig 加载配置文件, 未出现的字段保留默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate 检查会导致运行期异常的取值
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port 无效: %d", c.Server.Port)
	}
	if c.Instrument.Port <= 0 || c.Instrument.Port > 65535 {
		return fmt.Errorf("instrument.port 无效: %d", c.Instrument.Port)
	}
	if c.Instrument.BufferSize <= 0 {
		return fmt.Errorf("instrument.buffer_size 必须为正数: %d", c.Instrument.BufferSize)
	}
	if c.Instrument.MaxConnections <= 0 {
		return fmt.Errorf("instrument.max_connections 必须为正数: %d", c.Instrument.MaxConnections)
	}
	if c.Panel.PollInterval <= 0 {
		return fmt.Errorf("panel.poll_interval 必须为正数: %v", c.Panel.PollInterval)
	}
	if c.Panel.MaxAttempts <= 0 {
		return fmt.Errorf("panel.max_attempts 必须为正数: %d", c.Panel.MaxAttempts)
	}
	switch c.Panel.ScanPolicy {
	case "", "whole", "forward":
	default:
		return fmt.Errorf("panel.scan_policy 未知: %q", c.Panel.ScanPolicy)
	}
	return nil
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			WSPath:       "/ws",
			LogDir:       ".",
			SettingsFile: "settings.yaml",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			MaxClients:   64,
		},
		Instrument: InstrumentConfig{
			Host:           "0.0.0.0",
			Port:           8888,
			MaxConnections: 8,
			ReadTimeout:    30 * time.Second,
			BufferSize:     4096,
			KeepAlive:      180 * time.Second,
			DeviceLog:      "devices.log",
		},
		Panel: PanelConfig{
			Endpoint:        "ws://localhost:8080/ws",
			PollInterval:    500 * time.Millisecond,
			MaxAttempts:     30,
			Pacing:          200 * time.Millisecond,
			ScanPolicy:      "whole",
			LogURL:          "http://localhost:8080/ajax",
			FormURL:         "http://localhost:8080/form",
			LogFile:         "devices.log",
			LogPollInterval: 3 * time.Second,
			Locale:          "en",
			FallbackLocale:  "pt",
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			Channel:  "instrument_lines",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Monitor: MonitorConfig{
			Enabled: true,
		},
	}
}
