package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"lcr-webgui/pkg/protocol"
)

// Publisher 仪器输出行的下游
type Publisher interface {
	Publish(ctx context.Context, line *protocol.InstrumentLine) error
	Close() error
}

// 每个设备保留的最近行数
const listLimit = 1000

type MessageQueue struct {
	client  *redis.Client
	channel string
	log     *logrus.Logger
}

func NewMessageQueue(addr, password, channel string, db int, poolSize int, log *logrus.Logger) (*MessageQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	// 测试连接
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	log.Info("Redis连接成功")

	return NewMessageQueueWithClient(client, channel, log), nil
}

// NewMessageQueueWithClient 使用已有客户端, 不做连接测试
func NewMessageQueueWithClient(client *redis.Client, channel string, log *logrus.Logger) *MessageQueue {
	return &MessageQueue{
		client:  client,
		channel: channel,
		log:     log,
	}
}

func listKey(deviceID string) string {
	return fmt.Sprintf("instrument:%s:lines", deviceID)
}

// Publish 发布到 Pub/Sub 频道, 同时写入按设备的 List 作为备份
func (mq *MessageQueue) Publish(ctx context.Context, line *protocol.InstrumentLine) error {
	jsonData, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	if err := mq.client.Publish(ctx, mq.channel, jsonData).Err(); err != nil {
		return fmt.Errorf("发布消息失败: %w", err)
	}

	key := listKey(line.DeviceID)
	pipe := mq.client.TxPipeline()
	pipe.LPush(ctx, key, jsonData)
	pipe.LTrim(ctx, key, 0, listLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		mq.log.Warnf("保存到List失败: %v", err)
	}

	return nil
}

// Close 关闭连接
func (mq *MessageQueue) Close() error {
	return mq.client.Close()
}

// Discard 未启用 Redis 时使用
type Discard struct{}

func (Discard) Publish(context.Context, *protocol.InstrumentLine) error { return nil }
func (Discard) Close() error                                            { return nil }
