package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// 统计指标
type Stats struct {
	LinesSent        int64 // 仪器发送行数
	SendFailed       int64 // 发送失败数
	InstConnected    int64 // 仪器连接数
	ClientsConnected int64 // 面板连接数
	MessagesReceived int64 // 面板收到的消息数
	BytesSent        int64
}

// Instrument 模拟仪器, 按固定间隔输出测量行
type Instrument struct {
	ID           int
	ServerAddr   string
	SendInterval time.Duration
	Stats        *Stats
	Log          *logrus.Logger
	StopChan     chan struct{}
}

func NewInstrument(id int, serverAddr string, interval time.Duration, stats *Stats, log *logrus.Logger) *Instrument {
	return &Instrument{
		ID:           id,
		ServerAddr:   serverAddr,
		SendInterval: interval,
		Stats:        stats,
		Log:          log,
		StopChan:     make(chan struct{}),
	}
}

func (d *Instrument) Run(wg *sync.WaitGroup) {
	defer wg.Done()

	conn, err := net.DialTimeout("tcp", d.ServerAddr, 5*time.Second)
	if err != nil {
		d.Log.Errorf("仪器 %d 连接失败: %v", d.ID, err)
		atomic.AddInt64(&d.Stats.SendFailed, 1)
		return
	}
	defer conn.Close()
	atomic.AddInt64(&d.Stats.InstConnected, 1)

	ticker := time.NewTicker(d.SendInterval)
	defer ticker.Stop()

	for seq := 1; ; seq++ {
		select {
		case <-d.StopChan:
			return
		case <-ticker.C:
		}

		line := d.generateLine(seq)
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		n, err := conn.Write([]byte(line))
		if err != nil {
			d.Log.Errorf("仪器 %d 发送失败: %v", d.ID, err)
			atomic.AddInt64(&d.Stats.SendFailed, 1)
			return
		}
		atomic.AddInt64(&d.Stats.LinesSent, 1)
		atomic.AddInt64(&d.Stats.BytesSent, int64(n))
	}
}

func (d *Instrument) Stop() {
	close(d.StopChan)
}

// generateLine 测量行, 每 10 行插入一条带 OK 结尾的状态行
func (d *Instrument) generateLine(seq int) string {
	if seq%10 == 0 {
		return fmt.Sprintf("inst%d status %d OK\r\n", d.ID, seq)
	}
	// LCR 读数: 电容(pF) 损耗因数
	return fmt.Sprintf("inst%d C=%.2f D=%.4f\r\n", d.ID, 100+rand.Float64()*900, rand.Float64()/10)
}

// Client 模拟面板, 只统计收到的广播
type Client struct {
	ID    int
	URL   string
	Stats *Stats
	Log   *logrus.Logger
	conn  *websocket.Conn
}

func (c *Client) Run(wg *sync.WaitGroup) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(c.URL, nil)
	if err != nil {
		c.Log.Errorf("面板 %d 连接失败: %v", c.ID, err)
		return
	}
	c.conn = conn
	atomic.AddInt64(&c.Stats.ClientsConnected, 1)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		atomic.AddInt64(&c.Stats.MessagesReceived, 1)
	}
}

func (c *Client) Stop() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// StressTest 压力测试管理器
type StressTest struct {
	InstAddr     string
	WSURL        string
	NumInst      int
	NumClients   int
	SendInterval time.Duration
	Duration     time.Duration
	Stats        *Stats
	Instruments  []*Instrument
	Clients      []*Client
	Log          *logrus.Logger
}

func NewStressTest(instAddr, wsURL string, numInst, numClients int, sendInterval, duration time.Duration) *StressTest {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &StressTest{
		InstAddr:     instAddr,
		WSURL:        wsURL,
		NumInst:      numInst,
		NumClients:   numClients,
		SendInterval: sendInterval,
		Duration:     duration,
		Stats:        &Stats{},
		Log:          log,
	}
}

func (st *StressTest) Run() {
	st.Log.Infof("========================================")
	st.Log.Infof("压力测试开始")
	st.Log.Infof("仪器链路:   %s (%d 台)", st.InstAddr, st.NumInst)
	st.Log.Infof("面板地址:   %s (%d 个)", st.WSURL, st.NumClients)
	st.Log.Infof("发送间隔:   %v", st.SendInterval)
	st.Log.Infof("测试时长:   %v", st.Duration)
	st.Log.Infof("========================================")

	go st.monitorStats()

	var clientWG, instWG sync.WaitGroup

	// 先连接面板, 保证能收到全部广播
	for i := 0; i < st.NumClients; i++ {
		c := &Client{ID: i + 1, URL: st.WSURL, Stats: st.Stats, Log: st.Log}
		st.Clients = append(st.Clients, c)
		clientWG.Add(1)
		go c.Run(&clientWG)
	}
	time.Sleep(500 * time.Millisecond)

	for i := 0; i < st.NumInst; i++ {
		d := NewInstrument(i+1, st.InstAddr, st.SendInterval, st.Stats, st.Log)
		st.Instruments = append(st.Instruments, d)
		instWG.Add(1)
		go d.Run(&instWG)
	}

	if st.Duration > 0 {
		time.Sleep(st.Duration)
		st.Log.Infof("测试时长到达，准备停止...")
		for _, d := range st.Instruments {
			d.Stop()
		}
	}
	instWG.Wait()

	// 等待在途广播到达
	time.Sleep(time.Second)
	for _, c := range st.Clients {
		c.Stop()
	}
	clientWG.Wait()

	st.printFinalStats()
}

func (st *StressTest) monitorStats() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	lastSent := int64(0)
	lastRecv := int64(0)
	lastTime := time.Now()

	for range ticker.C {
		now := time.Now()
		duration := now.Sub(lastTime).Seconds()

		sent := atomic.LoadInt64(&st.Stats.LinesSent)
		recv := atomic.LoadInt64(&st.Stats.MessagesReceived)

		st.Log.Infof("仪器: %d | 面板: %d | 失败: %d | 发送: %d (%.0f/s) | 广播接收: %d (%.0f/s)",
			atomic.LoadInt64(&st.Stats.InstConnected),
			atomic.LoadInt64(&st.Stats.ClientsConnected),
			atomic.LoadInt64(&st.Stats.SendFailed),
			sent, float64(sent-lastSent)/duration,
			recv, float64(recv-lastRecv)/duration)

		lastSent = sent
		lastRecv = recv
		lastTime = now
	}
}

func (st *StressTest) printFinalStats() {
	sent := atomic.LoadInt64(&st.Stats.LinesSent)
	recv := atomic.LoadInt64(&st.Stats.MessagesReceived)
	clients := atomic.LoadInt64(&st.Stats.ClientsConnected)

	st.Log.Infof("========================================")
	st.Log.Infof("压力测试完成")
	st.Log.Infof("========================================")
	st.Log.Infof("发送行数:   %d", sent)
	st.Log.Infof("发送失败:   %d", atomic.LoadInt64(&st.Stats.SendFailed))
	st.Log.Infof("发送字节:   %.2f MB", float64(atomic.LoadInt64(&st.Stats.BytesSent))/1024/1024)
	st.Log.Infof("广播接收:   %d", recv)
	if sent > 0 && clients > 0 {
		// 问候消息每个面板一条
		delivered := float64(recv-clients) / float64(sent*clients) * 100
		st.Log.Infof("送达率:     %.2f%%", delivered)
	}
	st.Log.Infof("========================================")
}

func main() {
	instAddr := flag.String("server", "localhost:8888", "仪器链路地址")
	wsURL := flag.String("ws", "ws://localhost:8080/ws", "面板 WebSocket 地址")
	numInst := flag.Int("instruments", 4, "仪器数量")
	numClients := flag.Int("clients", 50, "面板数量")
	sendInterval := flag.Duration("interval", 100*time.Millisecond, "发送间隔")
	duration := flag.Duration("duration", 60*time.Second, "测试时长(0表示无限)")
	debug := flag.Bool("debug", false, "调试模式")
	flag.Parse()

	st := NewStressTest(*instAddr, *wsURL, *numInst, *numClients, *sendInterval, *duration)
	if *debug {
		st.Log.SetLevel(logrus.DebugLevel)
	}

	st.Run()
}
