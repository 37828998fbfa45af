package report

import (
	"context"

	"github.com/open4go/log"
	"github.com/open4go/streamflow/config"
)

// FromConfig 按配置创建已启用的 sink，地址为空的跳过
func FromConfig(ctx context.Context, cfg config.ReportConfig) (Multi, error) {
	var sinks Multi
	if cfg.Redis.Addr != "" {
		sinks = append(sinks, NewRedisSink(cfg.Redis.Addr, cfg.Redis.Channel, cfg.Redis.TTL))
	}
	if cfg.AMQP.URL != "" {
		sinks = append(sinks, NewAMQPSink(cfg.AMQP.URL, cfg.AMQP.Queue))
	}
	if cfg.Mongo.URI != "" {
		s, err := NewMongoSink(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err != nil {
			_ = sinks.Close(ctx)
			return nil, err
		}
		sinks = append(sinks, s)
	}

	for _, s := range sinks {
		log.Log(ctx).WithField("sink", s.Name()).Info("[Report] Sink enabled")
	}
	return sinks, nil
}
