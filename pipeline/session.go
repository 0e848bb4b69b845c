package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ayushj62/Snapshrinkstool/utils"
)

// 前景占比超出此范围时结果附带警告
const (
	HighCoverage = 0.995
	LowCoverage  = 0.005
)

const subscriberBuffer = 16

// SessionConfig 会话级流程参数
type SessionConfig struct {
	MaxDimension int
	Threshold    float32
	ExportSuffix string
}

// CompositeResult 会话最近一次成功的输出
type CompositeResult struct {
	Image    *image.NRGBA
	Spec     BackgroundSpec
	Tier     Tier
	Warnings []string
	States   []State
}

// SessionStatus 会话的状态快照
type SessionStatus struct {
	ID           string
	Filename     string
	Width        int
	Height       int
	State        State
	Notice       string
	Tier         Tier
	Background   string
	HasMask      bool
	HasComposite bool
	Warnings     []string
	LastError    string
	UpdatedAt    time.Time
}

// Session 一张正在编辑的图片：原图、工作栅格、掩码和当前背景下的合成结果。
// 新的 Remove 或 Replace 会取代进行中的任务，被取代的结果直接丢弃
type Session struct {
	ID string

	orch  *Orchestrator
	cache MaskCache
	cfg   SessionConfig
	log   *zap.Logger

	mu        sync.Mutex
	source    *SourceImage
	raster    *WorkingRaster
	mask      *Mask
	maskTier  Tier
	spec      BackgroundSpec
	composite *CompositeResult
	token     uint64
	cancel    context.CancelFunc
	last      Event
	lastErr   string
	updatedAt time.Time
	disposed  bool

	subs    map[int]chan Event
	nextSub int
}

func NewSession(id string, source *SourceImage, orch *Orchestrator, cache MaskCache, cfg SessionConfig, log *zap.Logger) *Session {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		ID:        id,
		orch:      orch,
		cache:     cache,
		cfg:       cfg,
		log:       log.With(zap.String("session_id", id)),
		source:    source,
		spec:      TransparentBackground(),
		last:      Event{State: StateIdle},
		updatedAt: time.Now(),
		subs:      make(map[int]chan Event),
	}
}

// Replace 换成新的上传。取消进行中的任务，释放旧图派生的所有结果，保留背景选择
func (s *Session) Replace(source *SourceImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrSessionNotFound
	}
	s.supersedeLocked()
	s.source = source
	s.raster = nil
	s.mask = nil
	s.maskTier = TierNone
	s.composite = nil
	s.lastErr = ""
	s.last = Event{State: StateIdle}
	s.updatedAt = time.Now()
	return nil
}

// Remove 分割当前图片并合成到 spec 上。运行中再次调用会取消前一次，
// 前一次的结果以 ErrStaleResult 丢弃
func (s *Session) Remove(ctx context.Context, spec BackgroundSpec) (*CompositeResult, error) {
	if err := ValidateBackground(spec); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if s.source == nil {
		s.mu.Unlock()
		return nil, NewError(InputValidation, "no image uploaded", nil)
	}
	s.supersedeLocked()
	token := s.token
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.spec = spec
	s.composite = nil
	s.lastErr = ""
	if s.raster == nil {
		raster, err := NewWorkingRaster(s.source, s.cfg.MaxDimension)
		if err != nil {
			s.mu.Unlock()
			cancel()
			return nil, err
		}
		s.raster = raster
	}
	source, raster := s.source, s.raster
	s.updatedAt = time.Now()
	s.mu.Unlock()
	defer cancel()

	req := Request{ID: utils.GenerateID(), Source: source, Raster: raster, Background: spec}
	log := s.log.With(zap.String("request_id", req.ID))
	observer := ObserverFunc(func(e Event) { s.publish(token, e) })

	key := MaskKey(source, raster.Width(), raster.Height())
	var res Result
	if m, ok := s.cacheGet(runCtx, key, raster); ok {
		log.Info("mask served from cache")
		for _, st := range []State{StateIdle, StateDone} {
			e := Event{RequestID: req.ID, State: st, Tier: TierCache, At: time.Now()}
			res.States = append(res.States, st)
			observer.OnEvent(e)
		}
		res.Outcome = success(TierCache, m)
	} else {
		res = s.orch.Run(runCtx, req, observer)
		if res.Outcome.Success() && s.cache != nil {
			if err := s.cache.Set(runCtx, key, res.Outcome.Mask); err != nil {
				log.Warn("mask cache write failed", zap.Error(err))
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || token != s.token {
		log.Info("dropping superseded result")
		return nil, ErrStaleResult
	}
	s.cancel = nil
	s.updatedAt = time.Now()

	if terr := res.TerminalError(); terr != nil {
		s.lastErr = terr.UserMessage()
		return nil, terr
	}
	s.mask = res.Outcome.Mask
	s.maskTier = res.Outcome.Tier

	result, err := s.compositeLocked(s.spec)
	if err != nil {
		s.lastErr = UserMessage(err)
		return nil, err
	}
	result.States = res.States
	s.composite = result
	return result, nil
}

// SetBackground 切换背景。已有掩码时直接重新合成，不再分割；
// 背景不可用时保留之前的规格和结果
func (s *Session) SetBackground(spec BackgroundSpec) (*CompositeResult, error) {
	if err := ValidateBackground(spec); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, ErrSessionNotFound
	}
	s.updatedAt = time.Now()
	if s.mask == nil {
		s.spec = spec
		s.composite = nil
		return nil, nil
	}
	if s.composite != nil && s.composite.Spec.Key() == spec.Key() {
		return s.composite, nil
	}

	result, err := s.compositeLocked(spec)
	if err != nil {
		return nil, err
	}
	s.spec = spec
	s.composite = result
	return result, nil
}

// Composite 当前结果，没有时返回 ErrNoComposite
func (s *Session) Composite() (*CompositeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.composite == nil {
		return nil, ErrNoComposite
	}
	return s.composite, nil
}

// Export 编码当前结果用于下载
func (s *Session) Export(format ExportFormat) (*Export, error) {
	s.mu.Lock()
	composite, source := s.composite, s.source
	s.updatedAt = time.Now()
	s.mu.Unlock()

	if composite == nil {
		return nil, ErrNoComposite
	}
	data, err := Encode(composite.Image, format)
	if err != nil {
		return nil, err
	}
	name := ""
	if source != nil {
		name = source.Filename
	}
	return &Export{
		Data:        data,
		Filename:    ExportFilename(name, s.cfg.ExportSuffix, format),
		ContentType: format.ContentType(),
	}, nil
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SessionStatus{
		ID:           s.ID,
		State:        s.last.State,
		Notice:       s.last.Notice,
		Tier:         s.maskTier,
		Background:   s.spec.Key(),
		HasMask:      s.mask != nil,
		HasComposite: s.composite != nil,
		LastError:    s.lastErr,
		UpdatedAt:    s.updatedAt,
	}
	if s.source != nil {
		st.Filename = s.source.Filename
		st.Width, st.Height = s.source.Width, s.source.Height
	}
	if s.composite != nil {
		st.Warnings = s.composite.Warnings
	}
	return st
}

// IdleSince 会话空闲时长
func (s *Session) IdleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.updatedAt)
}

// Subscribe 订阅之后开始的运行的状态转换。消费慢的订阅者会丢事件，不阻塞流程
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if s.disposed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Dispose 取消进行中的任务并释放所有结果
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.supersedeLocked()
	s.disposed = true
	s.source = nil
	s.raster = nil
	s.mask = nil
	s.composite = nil
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.log.Debug("session disposed")
}

func (s *Session) publish(token uint64, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token {
		return
	}
	s.last = e
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// supersedeLocked 作废当前请求令牌并取消其运行
func (s *Session) supersedeLocked() {
	s.token++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) cacheGet(ctx context.Context, key string, raster *WorkingRaster) (*Mask, bool) {
	if s.cache == nil {
		return nil, false
	}
	m, ok := s.cache.Get(ctx, key)
	if !ok || m == nil || m.Width != raster.Width() || m.Height != raster.Height() {
		return nil, false
	}
	if !m.HasForeground(s.cfg.Threshold) {
		return nil, false
	}
	return m, true
}

func (s *Session) compositeLocked(spec BackgroundSpec) (*CompositeResult, error) {
	w, h := s.raster.Width(), s.raster.Height()
	bg, err := ResolveBackground(spec, w, h)
	if err != nil {
		return nil, err
	}
	img, err := Composite(s.raster.Image, s.mask, bg, s.cfg.Threshold)
	if err != nil {
		return nil, err
	}
	return &CompositeResult{
		Image:    img,
		Spec:     spec,
		Tier:     s.maskTier,
		Warnings: coverageWarnings(s.mask.Coverage(s.cfg.Threshold)),
	}, nil
}

func coverageWarnings(coverage float64) []string {
	switch {
	case coverage >= HighCoverage:
		return []string{fmt.Sprintf("Almost the whole image (%.1f%%) was kept as foreground; the background may not have been found.", coverage*100)}
	case coverage <= LowCoverage:
		return []string{fmt.Sprintf("Only %.2f%% of the image was kept as foreground; check that the subject was detected.", coverage*100)}
	}
	return nil
}
