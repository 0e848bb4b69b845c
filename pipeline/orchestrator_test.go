package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingReporter struct {
	mu   sync.Mutex
	errs []*PipelineError
}

func (r *recordingReporter) ReportFailure(_ context.Context, _ string, err *PipelineError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func collectEvents() (*[]Event, Observer) {
	var events []Event
	return &events, ObserverFunc(func(e Event) { events = append(events, e) })
}

func TestOrchestrator_RemoteSuccessSkipsLocal(t *testing.T) {
	t.Parallel()

	remote := &fakeProvider{outcome: succeedWith(TierRemote)}
	local := &fakeProvider{ready: true, outcome: succeedWith(TierLocal)}
	o := NewOrchestrator(remote, local, nil, zap.NewNop())

	res := o.Run(context.Background(), testRequest(t, 20, 20))
	require.True(t, res.Outcome.Success())
	assert.Equal(t, TierRemote, res.Outcome.Tier)
	assert.Nil(t, res.TerminalError())
	assert.Equal(t, 1, remote.Calls())
	assert.Zero(t, local.Calls())
	assert.Equal(t, []State{StateIdle, StateRemoteInFlight, StateRemoteSucceeded, StateDone}, res.States)
}

func TestOrchestrator_FallbackToLocal(t *testing.T) {
	t.Parallel()

	for _, kind := range []ErrorKind{AuthError, QuotaError, TransientError, InvalidResponse, NoForegroundDetected} {
		t.Run(kind.String(), func(t *testing.T) {
			remote := &fakeProvider{outcome: failWith(TierRemote, kind)}
			local := &fakeProvider{ready: true, outcome: succeedWith(TierLocal)}
			o := NewOrchestrator(remote, local, nil, zap.NewNop())

			events, observer := collectEvents()
			res := o.Run(context.Background(), testRequest(t, 20, 20), observer)

			require.True(t, res.Outcome.Success())
			assert.Equal(t, TierLocal, res.Outcome.Tier)
			assert.Equal(t, 1, local.Calls())
			require.NotNil(t, res.Remote)
			assert.Equal(t, kind, res.Remote.Kind)
			assert.Equal(t, []State{
				StateIdle, StateRemoteInFlight, StateRemoteFailed,
				StateLocalInFlight, StateLocalSucceeded, StateDone,
			}, res.States)

			var notices []string
			for _, e := range *events {
				if e.State == StateLocalInFlight {
					notices = append(notices, e.Notice)
				}
			}
			assert.Equal(t, []string{FallbackNotice}, notices)
		})
	}
}

func TestOrchestrator_NoFallbackAvailable(t *testing.T) {
	t.Parallel()

	remote := &fakeProvider{outcome: failWith(TierRemote, QuotaError)}
	local := &fakeProvider{ready: false, outcome: succeedWith(TierLocal)}
	reporter := &recordingReporter{}
	o := NewOrchestrator(remote, local, reporter, zap.NewNop())

	events, observer := collectEvents()
	res := o.Run(context.Background(), testRequest(t, 20, 20), observer)

	require.False(t, res.Outcome.Success())
	assert.Zero(t, local.Calls())
	terr := res.TerminalError()
	require.NotNil(t, terr)
	assert.Equal(t, ModelUnavailable, terr.Kind)
	require.NotNil(t, terr.Remote)
	assert.Equal(t, QuotaError, terr.Remote.Kind)
	assert.Equal(t, "Background removal service credit limit reached, and no fallback model is available.", terr.UserMessage())
	assert.Equal(t, []State{StateIdle, StateRemoteInFlight, StateRemoteFailed, StateError}, res.States)

	last := (*events)[len(*events)-1]
	assert.Equal(t, StateError, last.State)
	assert.Equal(t, terr.UserMessage(), last.Notice)
	require.Len(t, reporter.errs, 1)
	assert.Equal(t, ModelUnavailable, reporter.errs[0].Kind)
}

func TestOrchestrator_RemoteNoForegroundWithoutFallback(t *testing.T) {
	t.Parallel()

	remote := &fakeProvider{outcome: failWith(TierRemote, NoForegroundDetected)}
	local := &fakeProvider{ready: false, outcome: succeedWith(TierLocal)}
	reporter := &recordingReporter{}
	o := NewOrchestrator(remote, local, reporter, zap.NewNop())

	res := o.Run(context.Background(), testRequest(t, 20, 20))
	require.False(t, res.Outcome.Success())
	assert.Zero(t, local.Calls())

	terr := res.TerminalError()
	require.NotNil(t, terr)
	assert.Equal(t, NoForegroundDetected, terr.Kind)
	assert.Equal(t, NoForegroundDetected, terr.Remote.Kind)
	assert.Nil(t, terr.Local)
	assert.Equal(t, "No foreground objects detected. Please try another image.", terr.UserMessage())
	require.Len(t, reporter.errs, 1)
	assert.Equal(t, NoForegroundDetected, reporter.errs[0].Kind)
}

func TestOrchestrator_LocalNoForeground(t *testing.T) {
	t.Parallel()

	remote := &fakeProvider{outcome: failWith(TierRemote, TransientError)}
	local := &fakeProvider{ready: true, outcome: failWith(TierLocal, NoForegroundDetected)}
	o := NewOrchestrator(remote, local, nil, zap.NewNop())

	res := o.Run(context.Background(), testRequest(t, 20, 20))
	require.False(t, res.Outcome.Success())
	assert.Equal(t, 1, local.Calls())

	terr := res.TerminalError()
	require.NotNil(t, terr)
	assert.Equal(t, NoForegroundDetected, terr.Kind)
	assert.Equal(t, TransientError, terr.Remote.Kind)
	assert.Equal(t, "No foreground objects detected. Please try another image.", terr.UserMessage())
	assert.ErrorIs(t, terr, &ProviderError{Kind: TransientError})
	assert.ErrorIs(t, terr, &ProviderError{Kind: NoForegroundDetected})
	assert.Equal(t, StateError, res.States[len(res.States)-1])
}

func TestOrchestrator_NilRemote(t *testing.T) {
	t.Parallel()

	local := &fakeProvider{ready: true, outcome: succeedWith(TierLocal)}
	o := NewOrchestrator(nil, local, nil, zap.NewNop())

	res := o.Run(context.Background(), testRequest(t, 10, 10))
	require.True(t, res.Outcome.Success())
	assert.Equal(t, TierLocal, res.Outcome.Tier)
}

func TestOrchestrator_CancelledAfterRemote(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	remote := &fakeProvider{outcome: func(Request) ProviderOutcome {
		cancel()
		return failure(TierRemote, TransientError, "cancelled", context.Canceled)
	}}
	local := &fakeProvider{ready: true, outcome: succeedWith(TierLocal)}
	o := NewOrchestrator(remote, local, nil, zap.NewNop())

	res := o.Run(ctx, testRequest(t, 10, 10))
	require.False(t, res.Outcome.Success())
	assert.Zero(t, local.Calls())
	assert.Equal(t, StateError, res.States[len(res.States)-1])
}
