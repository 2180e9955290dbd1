package session

import "sync"

// Snapshot 接收缓冲区在某一时刻的不可变视图
type Snapshot struct {
	Text string
	Gen  uint64 // 每次 Clear 后递增
}

// Log 只追加的接收缓冲区: 单写者（接收循环）多读者（关联轮询、显示刷新）
type Log struct {
	mu  sync.RWMutex
	buf []byte
	gen uint64
}

func NewLog() *Log {
	return &Log{}
}

// Append 追加一个分块并补一个换行
func (l *Log) Append(chunk string) {
	l.mu.Lock()
	l.buf = append(l.buf, chunk...)
	l.buf = append(l.buf, '\n')
	l.mu.Unlock()
}

// Snapshot 返回从位置 0 到当前的内容
func (l *Log) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{Text: string(l.buf), Gen: l.gen}
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buf)
}

// Clear 清空缓冲区（仅由用户操作触发）
func (l *Log) Clear() {
	l.mu.Lock()
	l.buf = nil
	l.gen++
	l.mu.Unlock()
}
