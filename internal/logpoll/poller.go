package logpoll

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"lcr-webgui/pkg/protocol"
)

type Options struct {
	URL      string
	FName    string
	Interval time.Duration
	Client   *http.Client
	Log      *logrus.Logger
}

// Poller 定时从 /ajax 拉取设备日志. 上一次请求结束后才安排下一次, 服务器无响应时不会堆积请求.
type Poller struct {
	url      string
	fname    string
	interval time.Duration
	client   *http.Client
	log      *logrus.Logger
	onUpdate func(contents string)
}

func New(opts Options, onUpdate func(contents string)) *Poller {
	if opts.FName == "" {
		opts.FName = protocol.DefaultLogFile
	}
	if opts.Interval <= 0 {
		opts.Interval = protocol.DefaultLogPollInterval
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	return &Poller{
		url:      opts.URL,
		fname:    opts.FName,
		interval: opts.Interval,
		client:   opts.Client,
		log:      opts.Log,
		onUpdate: onUpdate,
	}
}

// Run 轮询直到 ctx 结束
func (p *Poller) Run(ctx context.Context) error {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := p.Poll(ctx); err != nil {
			p.log.Warnf("日志轮询失败: %v", err)
		}

		timer.Reset(p.interval)
	}
}

// Poll 执行一次请求. contents 为 false、缺失或空字符串时不调用 onUpdate, 返回 false.
func (p *Poller) Poll(ctx context.Context) (bool, error) {
	body, err := json.Marshal(protocol.LogRequest{FName: p.fname})
	if err != nil {
		return false, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("服务器返回 %d", resp.StatusCode)
	}

	var payload struct {
		Contents json.RawMessage `json:"contents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("解析响应失败: %w", err)
	}

	contents, ok := decodeContents(payload.Contents)
	if !ok {
		return false, nil
	}

	if p.onUpdate != nil {
		p.onUpdate(contents)
	}
	return true, nil
}

func decodeContents(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// false 或其他非字符串值
		return "", false
	}
	if s == "" {
		return "", false
	}
	return s, true
}
