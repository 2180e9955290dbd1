package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"lcr-webgui/pkg/protocol"
)

// State 连接状态
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Endpoint 控制器 WebSocket 地址
type Endpoint struct {
	Host string
	Port int
	Path string
}

func (e Endpoint) URL() string {
	path := e.Path
	if path == "" {
		path = "/ws"
	}
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(e.Host, strconv.Itoa(e.Port)),
		Path:   path,
	}
	return u.String()
}

// ParseEndpoint 解析 ws://host:port/path
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("解析地址失败: %w", err)
	}
	if u.Scheme != "ws" {
		return Endpoint{}, fmt.Errorf("不支持的协议: %q", u.Scheme)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return Endpoint{}, fmt.Errorf("地址缺少端口: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("端口无效: %w", err)
	}
	return Endpoint{Host: host, Port: port, Path: u.Path}, nil
}

type Options struct {
	Log              *logrus.Logger
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

type subscriber struct {
	id int
	fn func(chunk string)
}

// Session 与仪器控制器之间唯一的双向文本连接
type Session struct {
	endpoint     Endpoint
	conn         *websocket.Conn
	state        atomic.Int32
	received     *Log
	log          *logrus.Logger
	writeTimeout time.Duration

	writeMu sync.Mutex

	subMu  sync.Mutex
	subs   []subscriber
	nextID int

	closeOnce sync.Once
	done      chan struct{}
}

// Open 建立连接并启动接收循环
func Open(ctx context.Context, endpoint Endpoint, opts Options) (*Session, error) {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	s := &Session{
		endpoint:     endpoint,
		received:     NewLog(),
		log:          opts.Log,
		writeTimeout: opts.WriteTimeout,
		done:         make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))

	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: opts.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint.URL(), nil)
	if err != nil {
		s.state.Store(int32(StateClosed))
		close(s.done)
		return nil, &protocol.ConnectionError{Endpoint: endpoint.URL(), Err: err}
	}

	s.conn = conn
	s.state.Store(int32(StateOpen))
	s.log.Infof("已连接到控制器: %s", endpoint.URL())

	go s.readLoop()

	return s, nil
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Endpoint() Endpoint {
	return s.endpoint
}

// Received 共享接收缓冲区
func (s *Session) Received() *Log {
	return s.received
}

// Done 连接关闭后返回
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send 发送一条文本命令，不等待确认
func (s *Session) Send(text string) error {
	return s.write(websocket.TextMessage, []byte(text))
}

// SendJSON 以 JSON 文本帧发送结构化命令
func (s *Session) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化命令失败: %w", err)
	}
	return s.write(websocket.TextMessage, data)
}

func (s *Session) write(messageType int, data []byte) error {
	if s.State() != StateOpen {
		return protocol.ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("发送失败: %w", err)
	}

	s.log.Debugf("已发送: %s", data)
	return nil
}

// Subscribe 注册接收回调, 返回取消函数
func (s *Session) Subscribe(fn func(chunk string)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Clear 清空接收缓冲区
func (s *Session) Clear() {
	s.received.Clear()
}

// Close 释放连接, 之后的 Send 返回 ErrNotConnected
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))

		s.writeMu.Lock()
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	<-s.done
	return err
}

func (s *Session) readLoop() {
	defer close(s.done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			// 主动关闭时不作为错误报告
			if s.State() != StateClosed && !isNormalClose(err) {
				s.log.Errorf("连接断开: %s, 错误: %v", s.endpoint.URL(), err)
			}
			s.state.Store(int32(StateClosed))
			s.closeOnce.Do(func() { s.conn.Close() })
			return
		}

		chunk := string(data)
		s.received.Append(chunk)
		s.log.Debugf("收到消息: %s", chunk)
		s.notify(chunk)
	}
}

// notify 按注册顺序调用回调
func (s *Session) notify(chunk string) {
	s.subMu.Lock()
	subs := s.subs
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(chunk)
	}
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
