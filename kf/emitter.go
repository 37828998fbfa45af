package kf

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/open4go/log"
)

// RunIDHeader 标记同一次运行发送的消息
const RunIDHeader = "run-id"

// Message 发送到 topic 的记录
type Message struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// NewMessage 按序号构造消息
func NewMessage(id int) Message {
	return Message{ID: id, Name: fmt.Sprintf("Message %d", id)}
}

// Emit 发送一条消息并等待确认，失败直接返回
func Emit(ctx context.Context, p Producer, topic string, payload []byte, headers ...Header) error {
	if err := p.Produce(ctx, topic, payload, headers...); err != nil {
		return err
	}
	return p.Flush(ctx)
}

// Emitter 按固定间隔顺序发送 Count 条消息
type Emitter struct {
	Producer Producer
	Topic    string
	Count    int
	Interval time.Duration
	RunID    string
}

// Run 依次发送消息，遇到第一个错误即停止，返回已成功发送的条数
func (e *Emitter) Run(ctx context.Context) (int, error) {
	if e.Topic == "" {
		return 0, ErrEmptyTopic
	}

	var headers []Header
	if e.RunID != "" {
		headers = append(headers, Header{Key: RunIDHeader, Value: []byte(e.RunID)})
	}

	sent := 0
	for i := 0; i < e.Count; i++ {
		if i > 0 && e.Interval > 0 {
			if err := sleep(ctx, e.Interval); err != nil {
				return sent, err
			}
		}

		payload, err := json.Marshal(NewMessage(i))
		if err != nil {
			return sent, fmt.Errorf("marshal message %d: %w", i, err)
		}
		if err := Emit(ctx, e.Producer, e.Topic, payload, headers...); err != nil {
			log.Log(ctx).WithField("topic", e.Topic).WithField("id", i).Error(err)
			return sent, fmt.Errorf("emit message %d: %w", i, err)
		}
		sent++

		log.Log(ctx).WithField("topic", e.Topic).WithField("payload", string(payload)).
			Info("[Kafka] Message delivered")
	}
	return sent, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
