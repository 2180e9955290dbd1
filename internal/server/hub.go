package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"lcr-webgui/internal/monitor"
)

// 每个客户端的发送队列长度, 队列满的客户端会被断开
const clientQueueSize = 256

var errTooManyClients = errors.New("达到最大客户端数")

type client struct {
	conn      *websocket.Conn
	send      chan string
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub 管理所有面板 WebSocket 连接, 把仪器输出广播给每个客户端
type Hub struct {
	mu           sync.RWMutex
	clients      map[*client]struct{}
	maxClients   int
	writeTimeout time.Duration
	log          *logrus.Logger
}

func NewHub(maxClients int, writeTimeout time.Duration, log *logrus.Logger) *Hub {
	return &Hub{
		clients:      make(map[*client]struct{}),
		maxClients:   maxClients,
		writeTimeout: writeTimeout,
		log:          log,
	}
}

// Register 注册连接并启动写循环
func (h *Hub) Register(conn *websocket.Conn) (*client, error) {
	h.mu.Lock()
	if h.maxClients > 0 && len(h.clients) >= h.maxClients {
		h.mu.Unlock()
		return nil, errTooManyClients
	}
	c := &client{conn: conn, send: make(chan string, clientQueueSize)}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	monitor.ActiveClients.Inc()
	monitor.TotalClients.Inc()

	go h.writePump(c)
	return c, nil
}

func (h *Hub) Unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		monitor.ActiveClients.Dec()
		c.close()
	}
}

// Broadcast 非阻塞地推送给所有客户端
func (h *Hub) Broadcast(text string) {
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- text:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warnf("客户端发送队列已满, 断开: %s", c.conn.RemoteAddr())
		h.Unregister(c)
	}
}

// Send 只推送给一个客户端
func (h *Hub) Send(c *client, text string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- text:
	default:
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 断开所有客户端
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		monitor.ActiveClients.Dec()
		c.close()
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()

	for text := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
			h.log.Debugf("写入客户端失败: %v", err)
			h.Unregister(c)
			// 排空队列直到被关闭
			for range c.send {
			}
			return
		}
	}

	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}
