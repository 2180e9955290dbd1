package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lcr-webgui/pkg/protocol"
)

// Client 通过 /form 读取和保存服务器上的设置
type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{url: url, client: client}
}

func (c *Client) Get(ctx context.Context) (*protocol.Settings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	return c.do(req)
}

func (c *Client) SaveExperiment(ctx context.Context, exp protocol.ExperimentSettings) (*protocol.Settings, error) {
	return c.post(ctx, protocol.FormRequest{PageID: protocol.FormPageExperiment, Experiment: &exp})
}

func (c *Client) SaveArduinos(ctx context.Context, a1, a2 protocol.ArduinoSettings) (*protocol.Settings, error) {
	return c.post(ctx, protocol.FormRequest{PageID: protocol.FormPageArduino, Arduino1: &a1, Arduino2: &a2})
}

func (c *Client) post(ctx context.Context, form protocol.FormRequest) (*protocol.Settings, error) {
	body, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*protocol.Settings, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	var out protocol.FormResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析响应失败 (HTTP %d): %w", resp.StatusCode, err)
	}
	if out.Status != "ok" {
		return nil, fmt.Errorf("保存设置失败: %s", out.Error)
	}
	if out.Settings == nil {
		return nil, fmt.Errorf("响应缺少 settings")
	}
	return out.Settings, nil
}
