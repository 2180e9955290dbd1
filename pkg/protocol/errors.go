package protocol

import (
	"errors"
	"fmt"
)

// ErrNotConnected 会话未处于 open 状态时发送
var ErrNotConnected = errors.New("会话未连接")

// ConnectionError 传输不可用或握手失败
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("连接 %s 失败: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ValidationError 用户输入的数值字段缺失或非正数
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("参数无效: %s=%q", e.Field, e.Value)
}

// CorrelationTimeout 在尝试次数内未匹配到响应
type CorrelationTimeout struct {
	Command  string
	Attempts int
}

func (e *CorrelationTimeout) Error() string {
	return fmt.Sprintf("命令 %q 在 %d 次轮询内未收到响应", e.Command, e.Attempts)
}
