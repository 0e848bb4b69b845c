package pipeline

import (
	"context"
	"errors"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testSessionConfig = SessionConfig{MaxDimension: 800, Threshold: DefaultThreshold, ExportSuffix: "-nobg"}

func newTestSession(t *testing.T, remote, local *fakeProvider, cache MaskCache) *Session {
	t.Helper()
	var fallback FallbackProvider
	if local != nil {
		fallback = local
	}
	o := NewOrchestrator(remote, fallback, nil, zap.NewNop())
	return NewSession("sess-1", testSource(t, 40, 20), o, cache, testSessionConfig, zap.NewNop())
}

func TestSession_RemoveAndExport(t *testing.T) {
	t.Parallel()

	remote := &fakeProvider{outcome: succeedWith(TierRemote)}
	s := newTestSession(t, remote, nil, nil)

	_, err := s.Export(FormatPNG)
	assert.ErrorIs(t, err, ErrNoComposite)

	res, err := s.Remove(context.Background(), ColorBackground(RGB{R: 255}))
	require.NoError(t, err)
	assert.Equal(t, TierRemote, res.Tier)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, res.Image.NRGBAAt(39, 10))
	assert.Equal(t, StateDone, res.States[len(res.States)-1])

	exp, err := s.Export(FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, "photo-nobg.png", exp.Filename)
	assert.Equal(t, "image/png", exp.ContentType)
	assert.NotEmpty(t, exp.Data)

	st := s.Status()
	assert.True(t, st.HasMask)
	assert.True(t, st.HasComposite)
	assert.Equal(t, StateDone, st.State)
	assert.Equal(t, "color:ff0000", st.Background)
}

func TestSession_SetBackgroundRecomposites(t *testing.T) {
	t.Parallel()

	remote := &fakeProvider{outcome: succeedWith(TierRemote)}
	s := newTestSession(t, remote, nil, nil)

	_, err := s.Remove(context.Background(), TransparentBackground())
	require.NoError(t, err)

	res, err := s.SetBackground(ColorBackground(RGB{B: 255}))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, color.NRGBA{B: 255, A: 255}, res.Image.NRGBAAt(39, 0))
	assert.Equal(t, 1, remote.Calls())

	current, err := s.Composite()
	require.NoError(t, err)
	assert.Same(t, res, current)
}

func TestSession_InvalidBackgroundKeepsState(t *testing.T) {
	t.Parallel()

	remote := &fakeProvider{outcome: succeedWith(TierRemote)}
	s := newTestSession(t, remote, nil, nil)

	before, err := s.Remove(context.Background(), ColorBackground(RGB{G: 255}))
	require.NoError(t, err)

	_, err = s.SetBackground(ImageBackground([]byte("garbage")))
	assert.Equal(t, InvalidBackgroundAsset, KindOf(err))

	after, err := s.Composite()
	require.NoError(t, err)
	assert.Same(t, before, after)
	assert.Equal(t, "color:00ff00", s.Status().Background)
}

func TestSession_RemoveWithTruncatedAssetKeepsState(t *testing.T) {
	t.Parallel()

	remote := &fakeProvider{outcome: succeedWith(TierRemote)}
	s := newTestSession(t, remote, nil, nil)

	before, err := s.Remove(context.Background(), ColorBackground(RGB{G: 255}))
	require.NoError(t, err)

	// 头部可以解码，像素数据不行
	truncated := encodePNG(t, gradientNRGBA(32, 32))[:60]
	_, err = s.Remove(context.Background(), ImageBackground(truncated))
	assert.Equal(t, InvalidBackgroundAsset, KindOf(err))

	after, err := s.Composite()
	require.NoError(t, err)
	assert.Same(t, before, after)
	assert.Equal(t, "color:00ff00", s.Status().Background)
	assert.Equal(t, 1, remote.Calls())
}

func TestSession_SetBackgroundWithoutMask(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, &fakeProvider{outcome: succeedWith(TierRemote)}, nil, nil)

	res, err := s.SetBackground(ColorBackground(RGB{R: 1}))
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, "color:010000", s.Status().Background)
}

func TestSession_StaleResultDiscarded(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	remote := &fakeProvider{block: block, outcome: succeedWith(TierRemote)}
	s := newTestSession(t, remote, nil, nil)

	first := make(chan error, 1)
	go func() {
		_, err := s.Remove(context.Background(), TransparentBackground())
		first <- err
	}()
	require.Eventually(t, func() bool { return remote.Calls() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := s.Remove(context.Background(), ColorBackground(RGB{R: 9}))
		second <- err
	}()

	select {
	case err := <-first:
		assert.ErrorIs(t, err, ErrStaleResult)
	case <-time.After(time.Second):
		t.Fatal("superseded request did not return")
	}

	require.Eventually(t, func() bool { return remote.Calls() == 2 }, time.Second, 5*time.Millisecond)
	close(block)
	require.NoError(t, <-second)

	res, err := s.Composite()
	require.NoError(t, err)
	assert.Equal(t, "color:090000", res.Spec.Key())
}

func TestSession_FailureKeepsNoComposite(t *testing.T) {
	t.Parallel()

	remote := &fakeProvider{outcome: failWith(TierRemote, AuthError)}
	local := &fakeProvider{ready: true, outcome: failWith(TierLocal, NoForegroundDetected)}
	s := newTestSession(t, remote, local, nil)

	_, err := s.Remove(context.Background(), TransparentBackground())
	var perr *PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, NoForegroundDetected, perr.Kind)

	_, err = s.Composite()
	assert.ErrorIs(t, err, ErrNoComposite)
	assert.Equal(t, "No foreground objects detected. Please try another image.", s.Status().LastError)

	// 不重新上传直接重试
	local.outcome = succeedWith(TierLocal)
	res, err := s.Remove(context.Background(), TransparentBackground())
	require.NoError(t, err)
	assert.Equal(t, TierLocal, res.Tier)
}

func TestSession_MaskCache(t *testing.T) {
	t.Parallel()

	cache := newMemCache()
	remote := &fakeProvider{outcome: succeedWith(TierRemote)}
	s := newTestSession(t, remote, nil, cache)

	_, err := s.Remove(context.Background(), TransparentBackground())
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	res, err := s.Remove(context.Background(), TransparentBackground())
	require.NoError(t, err)
	assert.Equal(t, TierCache, res.Tier)
	assert.Equal(t, 1, remote.Calls())
	assert.Equal(t, []State{StateIdle, StateDone}, res.States)
}

func TestSession_Replace(t *testing.T) {
	t.Parallel()

	remote := &fakeProvider{outcome: succeedWith(TierRemote)}
	s := newTestSession(t, remote, nil, nil)

	_, err := s.Remove(context.Background(), ColorBackground(RGB{R: 3}))
	require.NoError(t, err)

	require.NoError(t, s.Replace(testSource(t, 64, 32)))
	_, err = s.Export(FormatPNG)
	assert.ErrorIs(t, err, ErrNoComposite)

	st := s.Status()
	assert.False(t, st.HasMask)
	assert.Equal(t, 64, st.Width)
	assert.Equal(t, "color:030000", st.Background)

	res, err := s.Remove(context.Background(), ColorBackground(RGB{R: 3}))
	require.NoError(t, err)
	assert.Equal(t, 64, res.Image.Bounds().Dx())
}

func TestSession_CoverageWarnings(t *testing.T) {
	t.Parallel()

	remote := &fakeProvider{outcome: func(req Request) ProviderOutcome {
		return success(TierRemote, NewMask(req.Raster.Width(), req.Raster.Height()).Fill(1))
	}}
	s := newTestSession(t, remote, nil, nil)

	res, err := s.Remove(context.Background(), TransparentBackground())
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "background may not have been found")
}

func TestCoverageWarnings(t *testing.T) {
	t.Parallel()

	assert.Nil(t, coverageWarnings(0.5))
	assert.Len(t, coverageWarnings(0.999), 1)
	assert.Len(t, coverageWarnings(0.001), 1)
}

func TestSession_Subscribe(t *testing.T) {
	t.Parallel()

	remote := &fakeProvider{outcome: failWith(TierRemote, TransientError)}
	local := &fakeProvider{ready: true, outcome: succeedWith(TierLocal)}
	s := newTestSession(t, remote, local, nil)

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	_, err := s.Remove(context.Background(), TransparentBackground())
	require.NoError(t, err)

	var states []State
	var notice string
	for len(events) > 0 {
		e := <-events
		states = append(states, e.State)
		if e.State == StateLocalInFlight {
			notice = e.Notice
		}
	}
	assert.Equal(t, StateDone, states[len(states)-1])
	assert.Equal(t, FallbackNotice, notice)
}

func TestSession_Dispose(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, &fakeProvider{outcome: succeedWith(TierRemote)}, nil, nil)
	events, _ := s.Subscribe()

	s.Dispose()
	s.Dispose()

	_, ok := <-events
	assert.False(t, ok)
	_, err := s.Remove(context.Background(), TransparentBackground())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, s.Replace(testSource(t, 4, 4)), ErrSessionNotFound)
}
