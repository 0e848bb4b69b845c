package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func solidNRGBA(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// gradientNRGBA 每个像素颜色不同，方便检查复制结果
func gradientNRGBA(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testSource(t *testing.T, w, h int) *SourceImage {
	t.Helper()
	src, err := NewSourceImage(encodePNG(t, gradientNRGBA(w, h)), "image/png", "photo.png")
	require.NoError(t, err)
	return src
}

func testRequest(t *testing.T, w, h int) Request {
	t.Helper()
	src := testSource(t, w, h)
	raster, err := NewWorkingRaster(src, 800)
	require.NoError(t, err)
	return Request{ID: "req-1", Source: src, Raster: raster, Background: TransparentBackground()}
}

// leftHalfMask 左半边为前景
func leftHalfMask(w, h int) *Mask {
	m := NewMask(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			m.Set(x, y, 1)
		}
	}
	return m
}

// fakeProvider 返回固定结果并统计调用次数
type fakeProvider struct {
	mu      sync.Mutex
	calls   int32
	ready   bool
	outcome func(req Request) ProviderOutcome
	block   chan struct{}
}

func (f *fakeProvider) Segment(ctx context.Context, req Request) ProviderOutcome {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return failure(TierRemote, TransientError, "cancelled", ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome(req)
}

func (f *fakeProvider) Ready() bool { return f.ready }

func (f *fakeProvider) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

func succeedWith(tier Tier) func(Request) ProviderOutcome {
	return func(req Request) ProviderOutcome {
		return success(tier, leftHalfMask(req.Raster.Width(), req.Raster.Height()))
	}
}

func failWith(tier Tier, kind ErrorKind) func(Request) ProviderOutcome {
	return func(Request) ProviderOutcome {
		return failure(tier, kind, "test failure", nil)
	}
}

// memCache 内存版 MaskCache
type memCache struct {
	mu    sync.Mutex
	items map[string]*Mask
	sets  int
}

func newMemCache() *memCache { return &memCache{items: make(map[string]*Mask)} }

func (c *memCache) Get(_ context.Context, key string) (*Mask, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.items[key]
	return m, ok
}

func (c *memCache) Set(_ context.Context, key string, m *Mask) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = m
	c.sets++
	return nil
}
