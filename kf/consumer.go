package kf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/open4go/log"
	"github.com/segmentio/kafka-go"
)

// ErrVerifyIncomplete 回读未在超时前找到全部消息
var ErrVerifyIncomplete = errors.New("kafka verify incomplete")

// MessageReader kafka.Reader 的最小接口
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewReader 为 topic 的每个分区创建不加入消费组的 Reader，从最早 offset 开始读
//
// 不提交 offset，校验结束后 broker 上不留下消费组
func NewReader(ctx context.Context, brokers []string, topic string) (MessageReader, error) {
	partitions, err := lookupPartitions(ctx, brokers, topic)
	if err != nil {
		return nil, err
	}

	readers := make([]MessageReader, 0, len(partitions))
	for _, p := range partitions {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   brokers,
			Topic:     topic,
			Partition: p.ID,
		})
		if err := r.SetOffset(kafka.FirstOffset); err != nil {
			r.Close()
			for _, opened := range readers {
				opened.Close()
			}
			return nil, fmt.Errorf("set offset of %s/%d: %w", topic, p.ID, err)
		}
		readers = append(readers, r)
	}

	log.Log(ctx).WithField("topic", topic).WithField("partitions", len(readers)).
		Info("[Kafka] Reader initialized for topic")
	return mergeReaders(ctx, readers), nil
}

// lookupPartitions 依次尝试各 broker 获取 topic 的分区
func lookupPartitions(ctx context.Context, brokers []string, topic string) ([]kafka.Partition, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: no brokers configured", ErrBrokerUnavailable)
	}
	var errs []error
	for _, broker := range brokers {
		partitions, err := kafka.LookupPartitions(ctx, "tcp", broker, topic)
		if err == nil {
			return partitions, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: lookup partitions of %s: %w", ErrBrokerUnavailable, topic, errors.Join(errs...))
}

// mergedReader 合并多个分区 Reader 的输出，分区间不保证顺序
type mergedReader struct {
	readers []MessageReader
	msgs    chan kafka.Message
	errs    chan error
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func mergeReaders(ctx context.Context, readers []MessageReader) *mergedReader {
	ctx, cancel := context.WithCancel(ctx)
	m := &mergedReader{
		readers: readers,
		msgs:    make(chan kafka.Message),
		errs:    make(chan error, len(readers)),
		cancel:  cancel,
	}
	for _, r := range readers {
		m.wg.Add(1)
		go m.pump(ctx, r)
	}
	return m
}

func (m *mergedReader) pump(ctx context.Context, r MessageReader) {
	defer m.wg.Done()
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.errs <- err
			}
			return
		}
		select {
		case m.msgs <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// ReadMessage 返回任一分区的下一条消息
func (m *mergedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-m.msgs:
		return msg, nil
	case err := <-m.errs:
		return kafka.Message{}, err
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

// Close 停止读取并关闭所有分区 Reader
func (m *mergedReader) Close() error {
	m.cancel()
	m.wg.Wait()
	var errs []error
	for _, r := range m.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Verify 读取 topic，统计 run-id 匹配的不同消息 id，直到凑齐 want 条
func Verify(ctx context.Context, r MessageReader, runID string, want int) (int, error) {
	seen := make(map[int]struct{}, want)
	for len(seen) < want {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return len(seen), fmt.Errorf("%w: %d of %d messages: %w", ErrVerifyIncomplete, len(seen), want, err)
			}
			return len(seen), fmt.Errorf("read message: %w", err)
		}
		if headerValue(msg.Headers, RunIDHeader) != runID {
			continue
		}

		var m Message
		if err := json.Unmarshal(msg.Value, &m); err != nil {
			log.Log(ctx).WithField("offset", msg.Offset).Error(err)
			continue
		}
		seen[m.ID] = struct{}{}
	}

	log.Log(ctx).WithField("runID", runID).WithField("count", len(seen)).
		Info("[Kafka] Verify finished")
	return len(seen), nil
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
