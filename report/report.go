package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/open4go/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 运行状态
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Report 一次运行的结果摘要
type Report struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	RunID          string             `bson:"runId" json:"runId"`
	Topic          string             `bson:"topic" json:"topic"`
	Sent           int                `bson:"sent" json:"sent"`
	Verified       int                `bson:"verified" json:"verified"`
	ConnectionIDs  []string           `bson:"connectionIds" json:"connectionIds"`
	ProcessGroupID string             `bson:"processGroupId,omitempty" json:"processGroupId,omitempty"`
	Status         string             `bson:"status" json:"status"`
	Error          string             `bson:"error,omitempty" json:"error,omitempty"`
	StartedAt      time.Time          `bson:"startedAt" json:"startedAt"`
	FinishedAt     time.Time          `bson:"finishedAt" json:"finishedAt"`
}

// Finish 根据错误设置状态和结束时间
func (r *Report) Finish(err error) {
	r.FinishedAt = time.Now()
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = StatusSucceeded
}

// Sink 运行报告的输出
type Sink interface {
	Name() string
	Publish(ctx context.Context, r *Report) error
	Close(ctx context.Context) error
}

// Multi 依次写入所有 sink，单个失败不影响其他 sink
type Multi []Sink

// Name sink 名称
func (m Multi) Name() string { return "multi" }

// Publish 返回所有失败的合并错误
func (m Multi) Publish(ctx context.Context, r *Report) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		log.Log(ctx).WithField("sink", s.Name()).WithField("runID", r.RunID).
			Info("[Report] Report published")
	}
	return errors.Join(errs...)
}

// Close 关闭所有 sink
func (m Multi) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
