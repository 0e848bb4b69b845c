package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LocalProvider 运行进程内模型。同一时间只有一次推理，排队超过 queueTimeout 放弃
type LocalProvider struct {
	manager      *ModelManager
	threshold    float32
	queueTimeout time.Duration
	semaphore    chan struct{}
	log          *zap.Logger
}

func NewLocalProvider(manager *ModelManager, threshold float32, queueTimeout time.Duration, log *zap.Logger) *LocalProvider {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalProvider{
		manager:      manager,
		threshold:    threshold,
		queueTimeout: queueTimeout,
		semaphore:    make(chan struct{}, 1),
		log:          log,
	}
}

// Ready 回退层是否可用
func (p *LocalProvider) Ready() bool {
	return p.manager != nil && p.manager.Ready()
}

func (p *LocalProvider) Segment(ctx context.Context, req Request) ProviderOutcome {
	if !p.Ready() {
		state := ModelUnloaded
		if p.manager != nil {
			state = p.manager.State()
		}
		return failure(TierLocal, ModelUnavailable, "model "+string(state), nil)
	}
	if req.Raster == nil {
		return failure(TierLocal, InvalidResponse, "request without working raster", nil)
	}

	queueCtx := ctx
	if p.queueTimeout > 0 {
		var cancel context.CancelFunc
		queueCtx, cancel = context.WithTimeout(ctx, p.queueTimeout)
		defer cancel()
	}
	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-queueCtx.Done():
		return failure(TierLocal, TransientError, "inference queue is full", queueCtx.Err())
	}

	start := time.Now()
	var mask *Mask
	err := p.manager.Use(func(model InferenceModel) error {
		var err error
		mask, err = model.Predict(ctx, req.Raster)
		return err
	})
	if err != nil {
		if errors.Is(err, errModelDisposed) {
			return failure(TierLocal, ModelUnavailable, "model disposed", err)
		}
		if ctx.Err() != nil {
			return failure(TierLocal, TransientError, "inference cancelled", err)
		}
		return failure(TierLocal, InvalidResponse, "inference failed", err)
	}

	w, h := req.Raster.Width(), req.Raster.Height()
	if mask == nil || mask.Validate() != nil || mask.Width != w || mask.Height != h {
		return failure(TierLocal, InvalidResponse, fmt.Sprintf("model returned a mask that does not cover the %dx%d raster", w, h), nil)
	}
	if !mask.HasForeground(p.threshold) {
		p.log.Info("local segmentation found no foreground", zap.String("request_id", req.ID))
		return failure(TierLocal, NoForegroundDetected, "every pixel classified as background", nil)
	}

	p.log.Info("local segmentation succeeded",
		zap.String("request_id", req.ID),
		zap.Int("width", w),
		zap.Int("height", h),
		zap.Float64("coverage", mask.Coverage(p.threshold)),
		zap.Duration("duration", time.Since(start)))
	return success(TierLocal, mask)
}
