package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/open4go/log"
	"github.com/open4go/streamflow"
	"github.com/open4go/streamflow/config"
	"github.com/open4go/streamflow/kf"
	"github.com/open4go/streamflow/nifi"
	"github.com/open4go/streamflow/report"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		log.Log(context.Background()).Error(err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.New())
	if err != nil {
		return err
	}

	producer := kf.NewWriterManager(ctx, cfg.Kafka.Brokers)
	defer func() {
		if err := producer.Close(); err != nil {
			log.Log(ctx).Error(err)
		}
	}()

	client := nifi.NewClient(nifi.Options{
		BaseURL:            cfg.NiFi.URL,
		Username:           cfg.NiFi.Username,
		Password:           cfg.NiFi.Password,
		InsecureSkipVerify: cfg.NiFi.InsecureSkipVerify,
		Timeout:            cfg.NiFi.Timeout,
	})
	if err := client.Login(ctx); err != nil {
		return err
	}

	sinks, err := report.FromConfig(ctx, cfg.Report)
	if err != nil {
		return err
	}
	defer func() {
		// 退出时 ctx 可能已取消，关闭使用独立的 context
		if err := sinks.Close(context.Background()); err != nil {
			log.Log(ctx).Error(err)
		}
	}()

	runner := &streamflow.Runner{
		Config:   cfg,
		Producer: producer,
		Flow:     client,
		NewReader: func(ctx context.Context) (kf.MessageReader, error) {
			return kf.NewReader(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		},
		Sink: sinks,
	}
	rep, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	log.Log(ctx).WithField("runID", rep.RunID).WithField("sent", rep.Sent).
		WithField("connections", rep.ConnectionIDs).
		Info("[Run] Finished")
	return nil
}
