package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"lcr-webgui/internal/config"
	"lcr-webgui/internal/handler"
	"lcr-webgui/internal/monitor"
	"lcr-webgui/internal/parser"
	"lcr-webgui/internal/settings"
	"lcr-webgui/internal/storage"
)

// Server 面板 HTTP/WebSocket 服务 + 仪器控制器 TCP 链路
type Server struct {
	config    *config.Config
	parser    *parser.Parser
	storage   storage.Publisher
	monitor   *monitor.Monitor
	hub       *Hub
	settings  *settings.Store
	log       *logrus.Logger
	deviceLog *logrus.Logger
	upgrader  websocket.Upgrader
	limiter   chan struct{}
	wg        sync.WaitGroup

	instMu      sync.Mutex
	instruments map[*handler.ConnectionHandler]struct{}
}

// NewServer 按配置创建存储和设备日志
func NewServer(cfg *config.Config, log *logrus.Logger) (*Server, error) {
	var publisher storage.Publisher = storage.Discard{}
	if cfg.Redis.Enabled {
		mq, err := storage.NewMessageQueue(
			cfg.Redis.Addr,
			cfg.Redis.Password,
			cfg.Redis.Channel,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			log,
		)
		if err != nil {
			return nil, err
		}
		publisher = mq
	}

	deviceLog, err := openDeviceLog(filepath.Join(cfg.Server.LogDir, cfg.Instrument.DeviceLog))
	if err != nil {
		publisher.Close()
		return nil, err
	}

	return New(cfg, log, publisher, deviceLog), nil
}

// New 使用给定的存储和设备日志创建服务
func New(cfg *config.Config, log *logrus.Logger, publisher storage.Publisher, deviceLog *logrus.Logger) *Server {
	return &Server{
		config:      cfg,
		parser:      parser.NewParser(),
		storage:     publisher,
		monitor:     monitor.NewMonitor(log),
		hub:         NewHub(cfg.Server.MaxClients, cfg.Server.WriteTimeout, log),
		settings:    settings.NewStore(settingsPath(cfg.Server), log),
		log:         log,
		deviceLog:   deviceLog,
		limiter:     make(chan struct{}, cfg.Instrument.MaxConnections),
		instruments: make(map[*handler.ConnectionHandler]struct{}),
	}
}

// settingsPath 相对路径按日志目录解析
func settingsPath(cfg config.ServerConfig) string {
	name := cfg.SettingsFile
	if name == "" {
		name = "settings.yaml"
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(cfg.LogDir, name)
}

func openDeviceLog(path string) (*logrus.Logger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("打开设备日志失败: %w", err)
	}

	deviceLog := logrus.New()
	deviceLog.SetOutput(file)
	deviceLog.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	})
	return deviceLog, nil
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Run 启动所有监听, 直到 ctx 结束后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpAddr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	instAddr := fmt.Sprintf("%s:%d", s.config.Instrument.Host, s.config.Instrument.Port)

	lc := net.ListenConfig{
		KeepAlive: s.config.Instrument.KeepAlive,
	}

	instListener, err := lc.Listen(ctx, "tcp", instAddr)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}

	httpListener, err := lc.Listen(ctx, "tcp", httpAddr)
	if err != nil {
		instListener.Close()
		return fmt.Errorf("监听失败: %w", err)
	}

	httpServer := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: s.config.Server.ReadTimeout,
	}

	if s.config.Monitor.Enabled {
		s.monitor.StartRuntimeMonitor(ctx, 10*time.Second)
	}

	errCh := make(chan error, 2)

	go func() {
		s.log.Infof("面板服务启动成功: http://%s (WebSocket: %s)", httpAddr, s.config.Server.WSPath)
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP服务错误: %w", err)
		}
	}()

	go func() {
		s.log.Infof("仪器链路启动成功: %s (最大连接: %d)", instAddr, s.config.Instrument.MaxConnections)
		if err := s.ServeInstruments(ctx, instListener); err != nil {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("收到退出信号, 开始优雅关闭...")
	case runErr = <-errCh:
		s.log.Errorf("服务异常: %v", runErr)
	}

	cancel()
	s.shutdown(httpServer, instListener)
	return runErr
}

// ServeInstruments 接受仪器控制器连接, ctx 结束或监听关闭时返回
func (s *Server) ServeInstruments(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("停止接受新仪器连接")
				return nil
			}
			s.log.Errorf("接受连接错误: %v", err)
			continue
		}

		// 连接数限制
		select {
		case s.limiter <- struct{}{}:
			s.wg.Add(1)
			go s.handleConnection(ctx, conn)
		default:
			s.log.Warn("达到最大仪器连接数，拒绝连接")
			conn.Close()
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	h := handler.NewConnectionHandler(
		conn,
		s.parser,
		s.storage,
		s.hub,
		s.deviceLog,
		s.log,
		s.config.Instrument.BufferSize,
		s.config.Instrument.ReadTimeout,
	)

	s.instMu.Lock()
	s.instruments[h] = struct{}{}
	s.instMu.Unlock()

	defer func() {
		s.instMu.Lock()
		delete(s.instruments, h)
		s.instMu.Unlock()
		<-s.limiter
		s.wg.Done()
	}()

	h.Handle(ctx)
}

// Instruments 当前连接的仪器数
func (s *Server) Instruments() int {
	s.instMu.Lock()
	defer s.instMu.Unlock()
	return len(s.instruments)
}

// Forward 把面板命令写给所有已连接的仪器, 返回成功写入的数量
func (s *Server) Forward(cmd string) int {
	s.instMu.Lock()
	targets := make([]*handler.ConnectionHandler, 0, len(s.instruments))
	for h := range s.instruments {
		targets = append(targets, h)
	}
	s.instMu.Unlock()

	if len(targets) == 0 {
		s.log.Warnf("没有已连接的仪器, 丢弃命令: %q", cmd)
		return 0
	}

	sent := 0
	for _, h := range targets {
		if err := h.Send(cmd); err != nil {
			monitor.DataErrors.Inc()
			s.log.Errorf("转发命令失败 [%s]: %v", h.DeviceID(), err)
			continue
		}
		sent++
	}
	monitor.CommandsForwarded.Inc()
	return sent
}

func (s *Server) shutdown(httpServer *http.Server, instListener net.Listener) {
	// 停止接受新连接
	instListener.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warnf("HTTP服务关闭失败: %v", err)
	}

	s.hub.Close()

	// 等待仪器连接处理完成（最多30秒）
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("所有仪器连接已关闭")
	case <-time.After(30 * time.Second):
		s.log.Warn("关闭超时，强制退出")
	}

	// 关闭存储连接
	if err := s.storage.Close(); err != nil {
		s.log.Errorf("关闭存储连接失败: %v", err)
	}

	s.log.Info("服务器已关闭")
}
