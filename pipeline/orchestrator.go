package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// State 一次编排运行中的步骤
type State string

const (
	StateIdle            State = "idle"
	StateRemoteInFlight  State = "remote_in_flight"
	StateRemoteSucceeded State = "remote_succeeded"
	StateRemoteFailed    State = "remote_failed"
	StateLocalInFlight   State = "local_in_flight"
	StateLocalSucceeded  State = "local_succeeded"
	StateLocalFailed     State = "local_failed"
	StateDone            State = "done"
	StateError           State = "error"
)

// Terminal 是否为终止状态
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// FallbackNotice 切换到本地模型时发出，告诉调用方第一次失败不是最终结果
const FallbackNotice = "Remote service failed. Trying the on-device model instead..."

// Event 一次状态转换
type Event struct {
	RequestID string    `json:"request_id"`
	State     State     `json:"state"`
	Tier      Tier      `json:"tier,omitempty"`
	Notice    string    `json:"notice,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	At        time.Time `json:"at"`
}

// Observer 按顺序同步接收状态转换
type Observer interface {
	OnEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// FallbackProvider 可提前检查是否可用的分割实现
type FallbackProvider interface {
	SegmentationProvider
	Ready() bool
}

// Reporter 接收最终失败，用于诊断
type Reporter interface {
	ReportFailure(ctx context.Context, requestID string, err *PipelineError)
}

type nopReporter struct{}

func (nopReporter) ReportFailure(context.Context, string, *PipelineError) {}

// Result 一次运行的最终结果
type Result struct {
	Outcome ProviderOutcome
	Remote  *ProviderError
	Local   *ProviderError
	States  []State
}

// TerminalError 运行得到掩码时为 nil
func (r Result) TerminalError() *PipelineError {
	if r.Outcome.Success() {
		return nil
	}
	kind := ModelUnavailable
	switch {
	case r.Local != nil:
		kind = r.Local.Kind
	case r.Remote == nil && r.Outcome.Err != nil:
		kind = r.Outcome.Err.Kind
	case r.Remote != nil && r.Remote.Kind == NoForegroundDetected:
		// 图像本身没有前景，缺少本地模型不是主要原因
		kind = NoForegroundDetected
	}
	return &PipelineError{Kind: kind, Remote: r.Remote, Local: r.Local}
}

// Orchestrator 两级策略：先远程，远程失败且模型就绪时再用本地模型。
// 两级不会并发执行，也不重试
type Orchestrator struct {
	remote   SegmentationProvider
	local    FallbackProvider
	reporter Reporter
	log      *zap.Logger
}

func NewOrchestrator(remote SegmentationProvider, local FallbackProvider, reporter Reporter, log *zap.Logger) *Orchestrator {
	if reporter == nil {
		reporter = nopReporter{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{remote: remote, local: local, reporter: reporter, log: log}
}

// LocalReady 回退层是否可用
func (o *Orchestrator) LocalReady() bool {
	return o.local != nil && o.local.Ready()
}

func (o *Orchestrator) Run(ctx context.Context, req Request, observers ...Observer) Result {
	var res Result
	emit := func(s State, tier Tier, notice string, kind ErrorKind) {
		res.States = append(res.States, s)
		e := Event{RequestID: req.ID, State: s, Tier: tier, Notice: notice, At: time.Now()}
		if kind != KindUnknown {
			e.Kind = kind.String()
		}
		for _, ob := range observers {
			if ob != nil {
				ob.OnEvent(e)
			}
		}
	}

	emit(StateIdle, TierNone, "", KindUnknown)

	emit(StateRemoteInFlight, TierRemote, "", KindUnknown)
	remote := o.runRemote(ctx, req)
	if remote.Success() {
		emit(StateRemoteSucceeded, TierRemote, "", KindUnknown)
		emit(StateDone, TierRemote, "", KindUnknown)
		res.Outcome = remote
		return res
	}
	res.Remote = remote.Err
	emit(StateRemoteFailed, TierRemote, remote.Err.Message, remote.Err.Kind)

	if ctx.Err() != nil {
		o.log.Info("run cancelled after remote tier", zap.String("request_id", req.ID))
		res.Outcome = remote
		emit(StateError, TierRemote, "cancelled", remote.Err.Kind)
		return res
	}

	if !o.LocalReady() {
		res.Outcome = failure(TierLocal, ModelUnavailable, "no fallback available", nil)
		return o.fail(ctx, req, res, emit)
	}

	emit(StateLocalInFlight, TierLocal, FallbackNotice, KindUnknown)
	local := o.local.Segment(ctx, req)
	if local.Success() {
		emit(StateLocalSucceeded, TierLocal, "", KindUnknown)
		emit(StateDone, TierLocal, "", KindUnknown)
		res.Outcome = local
		return res
	}
	if local.Err == nil {
		local = failure(TierLocal, InvalidResponse, "provider returned no mask", nil)
	}
	res.Local = local.Err
	res.Outcome = local
	emit(StateLocalFailed, TierLocal, local.Err.Message, local.Err.Kind)
	return o.fail(ctx, req, res, emit)
}

func (o *Orchestrator) runRemote(ctx context.Context, req Request) ProviderOutcome {
	if o.remote == nil {
		return failure(TierRemote, TransientError, "remote tier disabled", nil)
	}
	out := o.remote.Segment(ctx, req)
	if !out.Success() && out.Err == nil {
		out = failure(TierRemote, InvalidResponse, "provider returned no mask", nil)
	}
	return out
}

func (o *Orchestrator) fail(ctx context.Context, req Request, res Result, emit func(State, Tier, string, ErrorKind)) Result {
	terr := res.TerminalError()
	emit(StateError, res.Outcome.Tier, terr.UserMessage(), terr.Kind)
	o.log.Warn("segmentation failed on every tier",
		zap.String("request_id", req.ID),
		zap.String("kind", terr.Kind.String()),
		zap.Error(terr))
	o.reporter.ReportFailure(ctx, req.ID, terr)
	return res
}
