package protocol

import "time"

// InstrumentLine 仪器控制器输出的一行文本
type InstrumentLine struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Terminal  bool      `json:"terminal"` // 行尾是否为状态标记 OK
}

// ParseResult 解析结果
type ParseResult struct {
	Success bool
	Data    *InstrumentLine
	Error   error
}

// StartCommand 启动实验命令（唯一的结构化命令）
type StartCommand struct {
	Device     string `json:"device"`
	NumSensors int    `json:"num_sensors"`
	Duration   int    `json:"duration"`
}

// LogRequest /ajax 请求体
type LogRequest struct {
	FName string `json:"fname"`
}

// LogResponse /ajax 响应体, Contents 为字符串或 false
type LogResponse struct {
	Status   string `json:"status"`
	Contents any    `json:"contents,omitempty"`
}

// 协议常量
const (
	// 终止状态标记
	TerminalMarker = "OK"

	// 连接时发送给客户端的欢迎文本
	Greeting = " Serial device connected! "

	// 结构化命令的设备名
	DeviceSensors = "sensors"

	// 单行最大长度, 超出时强制切分
	MaxLineLength = 4096

	// 默认日志文件
	DefaultLogFile = "devices.log"

	// 关联等待默认值: 30 次 × 500ms ≈ 15s
	DefaultPollInterval = 500 * time.Millisecond
	DefaultMaxAttempts  = 30

	// 日志轮询间隔
	DefaultLogPollInterval = 3 * time.Second

	// 校准命令之间的节奏延迟
	DefaultPacing = 200 * time.Millisecond
)

// 运动命令（无需确认）
const (
	CmdGoToOrigin       = "go to origin 2 2"
	CmdMoveForward      = "move forward 40 2 2"
	CmdMoveToPhotodiode = "move to photodiode 2 2"
)
