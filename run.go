package streamflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/open4go/log"
	"github.com/open4go/streamflow/config"
	"github.com/open4go/streamflow/flow"
	"github.com/open4go/streamflow/kf"
	"github.com/open4go/streamflow/report"
)

// Runner 一次完整运行：发送消息、可选回读校验、配置 NiFi 流程、输出报告
//
// 所有客户端由调用方创建和关闭
type Runner struct {
	Config    *config.Config
	Producer  kf.Producer
	Flow      flow.Service
	NewReader func(ctx context.Context) (kf.MessageReader, error)
	Sink      report.Sink
}

// Run 顺序执行，任一步失败即停止；报告总会尝试输出
func (r *Runner) Run(ctx context.Context) (*report.Report, error) {
	rep := &report.Report{
		RunID:     uuid.NewString(),
		Topic:     r.Config.Kafka.Topic,
		StartedAt: time.Now(),
	}

	err := r.run(ctx, rep)
	rep.Finish(err)

	if r.Sink != nil {
		r.publish(ctx, rep)
	}
	return rep, err
}

// reportTimeout 输出报告的超时
const reportTimeout = 10 * time.Second

// publish 使用不随运行取消的 context，被中断的运行同样留下报告
func (r *Runner) publish(ctx context.Context, rep *report.Report) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if err := r.Sink.Publish(pctx, rep); err != nil {
		log.Log(ctx).WithField("runID", rep.RunID).Error(err)
	}
}

func (r *Runner) run(ctx context.Context, rep *report.Report) error {
	cfg := r.Config

	emitter := &kf.Emitter{
		Producer: r.Producer,
		Topic:    cfg.Kafka.Topic,
		Count:    cfg.Emit.Count,
		Interval: cfg.Emit.Interval,
		RunID:    rep.RunID,
	}
	sent, err := emitter.Run(ctx)
	rep.Sent = sent
	if err != nil {
		return err
	}

	if cfg.Kafka.Verify && r.NewReader != nil {
		n, err := r.verify(ctx, rep.RunID, sent)
		rep.Verified = n
		if err != nil {
			return err
		}
	}

	res, err := flow.Configure(ctx, r.Flow, flow.Names{
		ProcessGroup: cfg.Flow.ProcessGroup,
		InputPort:    cfg.Flow.InputPort,
		OutputPort:   cfg.Flow.OutputPort,
		Processor:    cfg.Flow.Processor,
		Topic:        cfg.Kafka.Topic,
	})
	if res != nil {
		for _, c := range res.Connections {
			rep.ConnectionIDs = append(rep.ConnectionIDs, c.ID)
		}
		if res.ProcessGroup != nil {
			rep.ProcessGroupID = res.ProcessGroup.ID
		}
	}
	return err
}

func (r *Runner) verify(ctx context.Context, runID string, want int) (int, error) {
	timeout := r.Config.Kafka.VerifyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reader, err := r.NewReader(ctx)
	if err != nil {
		return 0, fmt.Errorf("verify topic %s: %w", r.Config.Kafka.Topic, err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			log.Log(ctx).WithField("runID", runID).Error(err)
		}
	}()

	n, err := kf.Verify(ctx, reader, runID, want)
	if err != nil {
		return n, fmt.Errorf("verify topic %s: %w", r.Config.Kafka.Topic, err)
	}
	return n, nil
}
