// Package flow 把输入端口、Kafka 处理器和输出端口串起来，并启动所在的 process group
package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/open4go/log"
	"github.com/open4go/streamflow/nifi"
)

// DefaultProcessor 中间处理器的默认名称
const DefaultProcessor = "Kafka Producer"

// TopicProperty 处理器上的 topic 属性名
const TopicProperty = "topic"

var (
	// ErrPropertyUpdateFailed 更新处理器属性失败
	ErrPropertyUpdateFailed = errors.New("processor property update failed")
	// ErrScheduleFailed 启动 process group 失败
	ErrScheduleFailed = errors.New("process group schedule failed")
)

// Service NiFi 管理接口，*nifi.Client 实现了它
type Service interface {
	FindComponent(ctx context.Context, kind nifi.Kind, name string) (*nifi.Component, error)
	CreateConnection(ctx context.Context, src, dst *nifi.Component, relationship string) (*nifi.Connection, error)
	UpdateProcessorProperties(ctx context.Context, proc *nifi.Component, props map[string]string) error
	FindProcessGroup(ctx context.Context, name string) (*nifi.Component, error)
	ScheduleProcessGroup(ctx context.Context, pg *nifi.Component, enabled bool) error
}

// Names 需要解析的组件名称
type Names struct {
	ProcessGroup string
	InputPort    string
	OutputPort   string
	Processor    string
	Topic        string
}

// Result 一次配置创建的连接和启动的 process group
type Result struct {
	Connections  []*nifi.Connection
	ProcessGroup *nifi.Component
}

// Configure 按顺序完成：解析端口、解析处理器、创建两条连接、设置 topic、启动 process group
//
// 任一步失败即返回，已创建的连接不会回滚。处理器只解析一次。
func Configure(ctx context.Context, svc Service, names Names) (*Result, error) {
	if names.Processor == "" {
		names.Processor = DefaultProcessor
	}
	result := &Result{}

	input, err := svc.FindComponent(ctx, nifi.KindInputPort, names.InputPort)
	if err != nil {
		return result, fmt.Errorf("resolve input port: %w", err)
	}
	output, err := svc.FindComponent(ctx, nifi.KindOutputPort, names.OutputPort)
	if err != nil {
		return result, fmt.Errorf("resolve output port: %w", err)
	}
	proc, err := svc.FindComponent(ctx, nifi.KindProcessor, names.Processor)
	if err != nil {
		return result, fmt.Errorf("resolve processor: %w", err)
	}

	links := []struct{ src, dst *nifi.Component }{
		{input, proc},
		{proc, output},
	}
	for _, l := range links {
		conn, err := svc.CreateConnection(ctx, l.src, l.dst, nifi.RelationshipSuccess)
		if err != nil {
			return result, fmt.Errorf("connect %s to %s: %w", l.src.Name, l.dst.Name, err)
		}
		result.Connections = append(result.Connections, conn)
	}

	props := map[string]string{TopicProperty: names.Topic}
	if err := svc.UpdateProcessorProperties(ctx, proc, props); err != nil {
		return result, fmt.Errorf("%w: %s: %w", ErrPropertyUpdateFailed, proc.Name, err)
	}

	pg, err := svc.FindProcessGroup(ctx, names.ProcessGroup)
	if err != nil {
		return result, fmt.Errorf("resolve process group: %w", err)
	}
	if err := svc.ScheduleProcessGroup(ctx, pg, true); err != nil {
		return result, fmt.Errorf("%w: %s: %w", ErrScheduleFailed, pg.Name, err)
	}
	result.ProcessGroup = pg

	log.Log(ctx).WithField("processGroup", pg.Name).WithField("topic", names.Topic).
		WithField("connections", len(result.Connections)).
		Info("[Flow] Workflow configured and started")
	return result, nil
}
