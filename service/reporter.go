package service

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/Ayushj62/Snapshrinkstool/config"
	"github.com/Ayushj62/Snapshrinkstool/pipeline"
)

// SentryReporter 把最终失败上报到 Sentry
type SentryReporter struct {
	hub *sentry.Hub
}

// InitSentry 初始化全局客户端，DSN 为空时不上报并返回 nil
func InitSentry(cfg *config.SentryConfig, release string) (*SentryReporter, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     release,
	})
	if err != nil {
		return nil, err
	}
	return NewSentryReporter(sentry.CurrentHub()), nil
}

func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	return &SentryReporter{hub: hub}
}

func (r *SentryReporter) ReportFailure(_ context.Context, requestID string, err *pipeline.PipelineError) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("failure_type", "segmentation")
		scope.SetTag("kind", err.Kind.String())
		if err.Remote != nil {
			scope.SetTag("remote_kind", err.Remote.Kind.String())
		}
		if err.Local != nil {
			scope.SetTag("local_kind", err.Local.Kind.String())
		}
		scope.SetExtra("request_id", requestID)
		r.hub.CaptureException(err)
	})
}

// Flush 等待缓冲的事件发送完
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

// LogReporter 未启用 Sentry 时把最终失败写入日志
type LogReporter struct {
	log *zap.Logger
}

func NewLogReporter(log *zap.Logger) *LogReporter {
	return &LogReporter{log: log}
}

func (r *LogReporter) ReportFailure(_ context.Context, requestID string, err *pipeline.PipelineError) {
	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("kind", err.Kind.String()),
	}
	if err.Remote != nil {
		fields = append(fields, zap.String("remote_kind", err.Remote.Kind.String()))
	}
	if err.Local != nil {
		fields = append(fields, zap.String("local_kind", err.Local.Kind.String()))
	}
	r.log.Error("background removal failed", fields...)
}
