package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"lcr-webgui/internal/monitor"
	"lcr-webgui/internal/parser"
	"lcr-webgui/internal/storage"
	"lcr-webgui/pkg/protocol"
)

// Broadcaster 把仪器输出推送给所有面板客户端
type Broadcaster interface {
	Broadcast(text string)
}

const defaultBufferSize = 4096

// ConnectionHandler 一个仪器控制器连接（串口转 TCP）
type ConnectionHandler struct {
	conn        net.Conn
	deviceID    string
	parser      *parser.Parser
	splitter    *parser.Splitter
	storage     storage.Publisher
	hub         Broadcaster
	deviceLog   *logrus.Logger
	log         *logrus.Logger
	bufferSize  int
	readTimeout time.Duration
	writeMu     sync.Mutex
}

func NewConnectionHandler(
	conn net.Conn,
	parser *parser.Parser,
	storage storage.Publisher,
	hub Broadcaster,
	deviceLog *logrus.Logger,
	log *logrus.Logger,
	bufferSize int,
	readTimeout time.Duration,
) *ConnectionHandler {
	deviceID := conn.RemoteAddr().String()

	// 长度为 0 的缓冲区会让 Read 一直返回 0, nil
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	return &ConnectionHandler{
		conn:        conn,
		deviceID:    deviceID,
		parser:      parser,
		splitter:    newSplitter(bufferSize),
		storage:     storage,
		hub:         hub,
		deviceLog:   deviceLog,
		log:         log,
		bufferSize:  bufferSize,
		readTimeout: readTimeout,
	}
}

func newSplitter(bufferSize int) *parser.Splitter {
	if bufferSize > protocol.MaxLineLength {
		return parser.NewSplitter(bufferSize)
	}
	return parser.NewSplitter(protocol.MaxLineLength)
}

func (h *ConnectionHandler) DeviceID() string {
	return h.deviceID
}

// Handle 处理连接, ctx 结束或对端断开时返回
func (h *ConnectionHandler) Handle(ctx context.Context) {
	defer func() {
		h.conn.Close()
		monitor.ActiveInstruments.Dec()
		h.log.Infof("仪器连接关闭: %s", h.deviceID)
	}()

	monitor.ActiveInstruments.Inc()
	monitor.TotalInstruments.Inc()
	h.log.Infof("新仪器连接: %s", h.deviceID)

	// ctx 结束时打断阻塞的 Read
	stop := context.AfterFunc(ctx, func() { h.conn.Close() })
	defer stop()

	buffer := make([]byte, h.bufferSize)

	for {
		// 设置读取超时
		h.conn.SetReadDeadline(time.Now().Add(h.readTimeout))

		n, err := h.conn.Read(buffer)
		if n > 0 {
			monitor.BytesReceived.Add(float64(n))
			for _, line := range h.splitter.Feed(buffer[:n]) {
				h.processLine(ctx, line)
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				h.log.Debugf("读取超时: %s", h.deviceID)
				continue
			}
			if rest := h.splitter.Flush(); rest != nil {
				h.processLine(ctx, rest)
			}
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				h.log.Debugf("连接断开: %s, 错误: %v", h.deviceID, err)
			}
			return
		}
	}
}

// processLine 处理一行仪器输出
func (h *ConnectionHandler) processLine(ctx context.Context, line []byte) {
	result := h.parser.Parse(h.deviceID, line)

	if !result.Success {
		if len(strings.TrimSpace(string(line))) > 0 {
			monitor.DataErrors.Inc()
			h.log.Warnf("解析失败 [%s]: %v", h.deviceID, result.Error)
		}
		return
	}

	data := result.Data
	monitor.LinesReceived.WithLabelValues(h.deviceID).Inc()

	h.hub.Broadcast(data.Text)

	h.deviceLog.WithField("device", h.deviceID).Info(data.Text)

	if err := h.storage.Publish(ctx, data); err != nil {
		monitor.DataErrors.Inc()
		h.log.Errorf("发布消息失败 [%s]: %v", h.deviceID, err)
	}

	h.log.Debugf("仪器输出 [%s]: %q, 终止=%v", h.deviceID, data.Text, data.Terminal)
}

// Send 向仪器写入一条命令, 补齐行尾换行
func (h *ConnectionHandler) Send(cmd string) error {
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	n, err := h.conn.Write([]byte(cmd))
	if err != nil {
		return fmt.Errorf("发送命令失败: %w", err)
	}

	h.log.Debugf("发送命令 [%s]: %d 字节", h.deviceID, n)
	return nil
}
