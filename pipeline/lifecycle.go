package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// InferenceModel 把栅格的每个像素分为前景或背景，实现不要求并发安全
type InferenceModel interface {
	Predict(ctx context.Context, img *WorkingRaster) (*Mask, error)
	Close() error
}

// ModelLoader 构建模型，可能长时间阻塞
type ModelLoader func(ctx context.Context) (InferenceModel, error)

// ModelState 进程级模型的生命周期状态
type ModelState string

const (
	ModelUnloaded   ModelState = "unloaded"
	ModelLoading    ModelState = "loading"
	ModelReady      ModelState = "ready"
	ModelLoadFailed ModelState = "load_failed"
	ModelDisposed   ModelState = "disposed"
)

var errModelDisposed = errors.New("model disposed")

// ModelManager 持有唯一的推理模型。Init 只加载一次，加载失败在整个生命周期内有效
type ModelManager struct {
	loader      ModelLoader
	loadTimeout time.Duration
	log         *zap.Logger

	once   sync.Once
	useMu  sync.Mutex
	mu     sync.RWMutex
	state  ModelState
	model  InferenceModel
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

func NewModelManager(loader ModelLoader, loadTimeout time.Duration, log *zap.Logger) *ModelManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &ModelManager{
		loader:      loader,
		loadTimeout: loadTimeout,
		log:         log,
		state:       ModelUnloaded,
		done:        make(chan struct{}),
	}
}

// Init 后台开始加载，只有第一次调用生效
func (m *ModelManager) Init(ctx context.Context) {
	m.once.Do(func() {
		base := context.WithoutCancel(ctx)
		var (
			loadCtx context.Context
			cancel  context.CancelFunc
		)
		if m.loadTimeout > 0 {
			loadCtx, cancel = context.WithTimeout(base, m.loadTimeout)
		} else {
			loadCtx, cancel = context.WithCancel(base)
		}

		m.mu.Lock()
		m.state = ModelLoading
		m.cancel = cancel
		m.mu.Unlock()

		m.log.Info("loading segmentation model")
		go m.load(loadCtx)
	})
}

func (m *ModelManager) load(ctx context.Context) {
	defer close(m.done)
	start := time.Now()

	model, err := m.loader(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}

	if m.state == ModelDisposed {
		if model != nil {
			_ = model.Close()
		}
		return
	}
	if err == nil && model == nil {
		err = errors.New("loader returned no model")
	}
	if err != nil {
		m.state = ModelLoadFailed
		m.err = err
		m.log.Error("segmentation model failed to load", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return
	}
	m.state = ModelReady
	m.model = model
	m.log.Info("segmentation model ready", zap.Duration("duration", time.Since(start)))
}

func (m *ModelManager) State() ModelState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *ModelManager) Ready() bool {
	return m.State() == ModelReady
}

// Err 状态为 ModelLoadFailed 时的加载错误
func (m *ModelManager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// Wait 阻塞到加载结束或 ctx 结束；从未调用 Init 时立即返回
func (m *ModelManager) Wait(ctx context.Context) ModelState {
	if m.State() == ModelUnloaded {
		return ModelUnloaded
	}
	select {
	case <-m.done:
	case <-ctx.Done():
	}
	return m.State()
}

// Use 独占已就绪的模型执行 fn。调用串行执行，Dispose 会等待正在执行的调用
func (m *ModelManager) Use(fn func(InferenceModel) error) error {
	m.useMu.Lock()
	defer m.useMu.Unlock()

	model, err := m.acquire()
	if err != nil {
		return err
	}
	return fn(model)
}

func (m *ModelManager) acquire() (InferenceModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch m.state {
	case ModelReady:
		return m.model, nil
	case ModelLoadFailed:
		return nil, m.err
	case ModelDisposed:
		return nil, errModelDisposed
	default:
		return nil, errors.New("model " + string(m.state))
	}
}

// Dispose 释放模型，之后不能再使用
func (m *ModelManager) Dispose() error {
	m.mu.Lock()
	prev := m.state
	model := m.model
	m.state = ModelDisposed
	m.model = nil
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	// Dispose 之后的 Init 不再加载
	m.once.Do(func() { close(m.done) })

	m.useMu.Lock()
	defer m.useMu.Unlock()
	if model != nil {
		m.log.Info("disposing segmentation model", zap.String("previous_state", string(prev)))
		return model.Close()
	}
	return nil
}
