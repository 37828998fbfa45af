package kf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/open4go/log"
	"github.com/segmentio/kafka-go"
)

var (
	// ErrBrokerUnavailable broker 无法连接
	ErrBrokerUnavailable = errors.New("kafka broker unavailable")
	// ErrDeliveryFailed broker 拒绝写入
	ErrDeliveryFailed = errors.New("kafka delivery failed")
	// ErrEmptyTopic topic 为空
	ErrEmptyTopic = errors.New("kafka topic is empty")
	// ErrProducerClosed producer 已关闭
	ErrProducerClosed = errors.New("kafka producer closed")
)

// Header 消息头
type Header struct {
	Key   string
	Value []byte
}

// Producer 消息发送客户端：Produce 入队，Flush 阻塞直到全部确认或失败
type Producer interface {
	Produce(ctx context.Context, topic string, value []byte, headers ...Header) error
	Flush(ctx context.Context) error
	Close() error
}

// messageWriter kafka.Writer 的最小接口，便于替换
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// WriterManager 管理多个 topic 对应的 Kafka Writer
type WriterManager struct {
	writers map[string]messageWriter
	pending map[string][]kafka.Message
	order   []string
	lock    sync.RWMutex
	brokers []string
	closed  bool

	newWriter func(topic string) messageWriter
}

// NewWriterManager 创建 Writer 管理器，由调用方负责 Close
func NewWriterManager(ctx context.Context, brokers []string) *WriterManager {
	m := &WriterManager{
		writers: make(map[string]messageWriter),
		pending: make(map[string][]kafka.Message),
		brokers: brokers,
	}
	m.newWriter = m.kafkaWriter
	log.Log(ctx).WithField("brokers", brokers).
		Info("[Kafka] WriterManager initialized")
	return m
}

func (m *WriterManager) kafkaWriter(topic string) messageWriter {
	return &kafka.Writer{
		Addr:                   kafka.TCP(m.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// getWriter 获取或创建指定 topic 的 writer
func (m *WriterManager) getWriter(ctx context.Context, topic string) messageWriter {
	m.lock.RLock()
	w, ok := m.writers[topic]
	m.lock.RUnlock()
	if ok {
		return w
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	// 双重检查
	if w, ok = m.writers[topic]; ok {
		return w
	}

	w = m.newWriter(topic)
	m.writers[topic] = w

	log.Log(ctx).WithField("topic", topic).
		Info("[Kafka] Writer created for topic")

	return w
}

// Produce 将消息放入待发送队列，不做网络调用
func (m *WriterManager) Produce(ctx context.Context, topic string, value []byte, headers ...Header) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	msg := kafka.Message{Value: value}
	for _, h := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: h.Key, Value: h.Value})
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return ErrProducerClosed
	}
	if _, ok := m.pending[topic]; !ok {
		m.order = append(m.order, topic)
	}
	m.pending[topic] = append(m.pending[topic], msg)
	return nil
}

// Flush 同步写出所有待发送消息，等待 broker 确认
//
// 某个 topic 写入失败时立即返回：该 topic 的这批消息结果未知，不再重发；
// 尚未尝试的 topic 放回待发送队列，由下一次 Flush 写出
func (m *WriterManager) Flush(ctx context.Context) error {
	m.lock.Lock()
	pending, order := m.pending, m.order
	m.pending = make(map[string][]kafka.Message)
	m.order = nil
	m.lock.Unlock()

	for i, topic := range order {
		w := m.getWriter(ctx, topic)
		if err := w.WriteMessages(ctx, pending[topic]...); err != nil {
			m.requeue(order[i+1:], pending)
			return classify(topic, err)
		}
	}
	return nil
}

// requeue 将未写出的消息放回队列，排在 Flush 期间新入队的消息之前
func (m *WriterManager) requeue(topics []string, pending map[string][]kafka.Message) {
	if len(topics) == 0 {
		return
	}
	m.lock.Lock()
	defer m.lock.Unlock()

	order := append([]string(nil), topics...)
	requeued := make(map[string]bool, len(topics))
	for _, topic := range topics {
		m.pending[topic] = append(pending[topic], m.pending[topic]...)
		requeued[topic] = true
	}
	for _, topic := range m.order {
		if !requeued[topic] {
			order = append(order, topic)
		}
	}
	m.order = order
}

// Close 关闭所有 writer，未 Flush 的消息会被丢弃
func (m *WriterManager) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.closed = true
	var errs []error
	for topic, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %s: %w", topic, err))
		}
		delete(m.writers, topic)
	}
	m.pending = make(map[string][]kafka.Message)
	m.order = nil
	return errors.Join(errs...)
}

// classify 区分 broker 拒绝写入与连接失败
func classify(topic string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("write to %s: %w", topic, err)
	}

	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return fmt.Errorf("%w: topic %s: %w", ErrDeliveryFailed, topic, err)
	}

	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		for _, e := range werrs {
			if e == nil {
				continue
			}
			if errors.As(e, &kerr) {
				return fmt.Errorf("%w: topic %s: %w", ErrDeliveryFailed, topic, err)
			}
		}
	}
	return fmt.Errorf("%w: topic %s: %w", ErrBrokerUnavailable, topic, err)
}
