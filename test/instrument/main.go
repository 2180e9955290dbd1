package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"lcr-webgui/pkg/protocol"
)

// 模拟仪器控制器: 连接服务器的仪器链路, 按行接收命令并回复
//
//	set <参数> <值>          -> "<参数> <值> OK"
//	go to origin / move ...   -> "<命令> OK"
//	{"device":"sensors",...}  -> 按时长输出测量值, 最后 "experiment done OK"
func main() {
	host := flag.String("host", "localhost:8888", "服务器仪器链路地址")
	delay := flag.Duration("delay", 300*time.Millisecond, "回复延迟")
	drop := flag.Float64("drop", 0, "不回复的概率 (0~1)")
	debug := flag.Bool("debug", false, "调试模式")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := net.Dial("tcp", *host)
	if err != nil {
		log.Fatalf("连接失败: %v", err)
	}
	defer conn.Close()
	context.AfterFunc(ctx, func() { conn.Close() })

	log.Infof("已连接到: %s", *host)

	sim := &simulator{conn: conn, delay: *delay, drop: *drop, log: log}
	if err := sim.run(ctx); err != nil && ctx.Err() == nil {
		log.Errorf("连接中断: %v", err)
		os.Exit(1)
	}
}

type simulator struct {
	conn  net.Conn
	delay time.Duration
	drop  float64
	log   *logrus.Logger
}

func (s *simulator) run(ctx context.Context) error {
	reader := bufio.NewReader(s.conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		cmd := strings.TrimRight(line, "\r\n")
		if cmd == "" {
			continue
		}
		s.log.Infof("收到命令: %q", cmd)

		if rand.Float64() < s.drop {
			s.log.Warnf("模拟丢失响应: %q", cmd)
			continue
		}
		go s.respond(ctx, cmd)
	}
}

func (s *simulator) respond(ctx context.Context, cmd string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.delay):
	}

	if strings.HasPrefix(cmd, "{") {
		var start protocol.StartCommand
		if err := json.Unmarshal([]byte(cmd), &start); err != nil {
			s.write("invalid command ERROR")
			return
		}
		s.experiment(ctx, start)
		return
	}

	s.write(strings.TrimPrefix(cmd, "set ") + " " + protocol.TerminalMarker)
}

// experiment 每秒输出一行各传感器的读数
func (s *simulator) experiment(ctx context.Context, start protocol.StartCommand) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for sec := 1; sec <= start.Duration; sec++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		values := make([]string, start.NumSensors)
		for i := range values {
			values[i] = fmt.Sprintf("%.3f", 1+rand.Float64())
		}
		s.write(fmt.Sprintf("t=%d %s", sec, strings.Join(values, " ")))
	}
	s.write("experiment done " + protocol.TerminalMarker)
}

func (s *simulator) write(text string) {
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := s.conn.Write([]byte(text + "\r\n")); err != nil {
		s.log.Errorf("发送失败: %v", err)
		return
	}
	s.log.Debugf("回复: %q", text)
}
