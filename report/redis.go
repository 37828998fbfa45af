package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// lastReportKey 最近一次运行报告
const lastReportKey = "streamflow:last-run"

// RedisSink 发布报告到频道，并保留最近一次报告
type RedisSink struct {
	client  *redis.Client
	channel string
	ttl     time.Duration
}

// NewRedisSink 创建 redis sink
func NewRedisSink(addr, channel string, ttl time.Duration) *RedisSink {
	return NewRedisSinkFromClient(redis.NewClient(&redis.Options{Addr: addr}), channel, ttl)
}

// NewRedisSinkFromClient 使用已有连接
func NewRedisSinkFromClient(client *redis.Client, channel string, ttl time.Duration) *RedisSink {
	return &RedisSink{client: client, channel: channel, ttl: ttl}
}

// Name sink 名称
func (s *RedisSink) Name() string { return "redis" }

// Publish 快速发布新的运行报告
func (s *RedisSink) Publish(ctx context.Context, r *Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, s.channel, payload)
		pipe.Set(ctx, lastReportKey, payload, s.ttl)
		return nil
	})
	return err
}

// Close 关闭 redis 客户端
func (s *RedisSink) Close(context.Context) error {
	return s.client.Close()
}
