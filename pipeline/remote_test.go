package pipeline

import (
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ayushj62/Snapshrinkstool/httpclient"
)

// halfMatte 左半边不透明的灰度蒙版
func halfMatte(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			g.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return g
}

func newTestRemote(url, key string, timeout time.Duration) *RemoteProvider {
	return NewRemoteProvider(RemoteConfig{
		Endpoint: url,
		APIKey:   key,
		Timeout:  timeout,
	}, httpclient.NewHTTPClient(), zap.NewNop())
}

func TestRemoteProvider_Success(t *testing.T) {
	t.Parallel()

	matte := encodePNG(t, halfMatte(200, 100))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.NoError(t, r.ParseMultipartForm(10<<20))
		assert.Equal(t, "alpha", r.FormValue("channels"))
		assert.Equal(t, "png", r.FormValue("format"))
		assert.Equal(t, "auto", r.FormValue("size"))
		assert.Equal(t, "336699", r.FormValue("bg_color"))
		if f, hdr, err := r.FormFile("image_file"); assert.NoError(t, err) {
			_ = f.Close()
			assert.Equal(t, "photo.png", hdr.Filename)
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(matte)
	}))
	defer srv.Close()

	req := testRequest(t, 100, 50)
	req.Background = ColorBackground(RGB{R: 0x33, G: 0x66, B: 0x99})

	out := newTestRemote(srv.URL, "secret", time.Second).Segment(context.Background(), req)
	require.True(t, out.Success(), "unexpected error: %v", out.Err)
	assert.Equal(t, TierRemote, out.Tier)
	assert.Equal(t, 100, out.Mask.Width)
	assert.Equal(t, 50, out.Mask.Height)
	assert.Greater(t, out.Mask.At(10, 25), float32(0.5))
	assert.Less(t, out.Mask.At(90, 25), float32(0.5))
}

func TestRemoteProvider_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		wantKind ErrorKind
		wantMsg  string
	}{
		{name: "forbidden", status: http.StatusForbidden, wantKind: AuthError},
		{name: "unauthorized", status: http.StatusUnauthorized, wantKind: AuthError},
		{name: "payment required", status: http.StatusPaymentRequired, wantKind: QuotaError},
		{name: "rate limited", status: http.StatusTooManyRequests, wantKind: QuotaError},
		{name: "server error", status: http.StatusInternalServerError, wantKind: TransientError},
		{
			name:     "structured error body",
			status:   http.StatusBadRequest,
			body:     `{"errors":[{"title":"Could not identify foreground in image","code":"unknown_foreground"}]}`,
			wantKind: TransientError,
			wantMsg:  "Could not identify foreground in image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			out := newTestRemote(srv.URL, "key", time.Second).Segment(context.Background(), testRequest(t, 20, 20))
			require.False(t, out.Success())
			assert.Equal(t, tt.wantKind, out.Err.Kind)
			assert.Equal(t, TierRemote, out.Err.Tier)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, out.Err.Message)
			}
		})
	}
}

func TestRemoteProvider_InvalidResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     func(t *testing.T) []byte
		wantKind ErrorKind
	}{
		{name: "not an image", body: func(*testing.T) []byte { return []byte("<html></html>") }, wantKind: InvalidResponse},
		{name: "empty body", body: func(*testing.T) []byte { return nil }, wantKind: InvalidResponse},
		{name: "wrong aspect", body: func(t *testing.T) []byte { return encodePNG(t, halfMatte(50, 50)) }, wantKind: InvalidResponse},
		{name: "no foreground", body: func(t *testing.T) []byte { return encodePNG(t, image.NewGray(image.Rect(0, 0, 40, 20))) }, wantKind: NoForegroundDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body(t)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(body)
			}))
			defer srv.Close()

			out := newTestRemote(srv.URL, "key", time.Second).Segment(context.Background(), testRequest(t, 40, 20))
			require.False(t, out.Success())
			assert.Equal(t, tt.wantKind, out.Err.Kind)
		})
	}
}

func TestRemoteProvider_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	out := newTestRemote(srv.URL, "key", 50*time.Millisecond).Segment(context.Background(), testRequest(t, 10, 10))
	require.False(t, out.Success())
	assert.Equal(t, TransientError, out.Err.Kind)
	assert.Equal(t, "request timed out", out.Err.Message)
}

func TestRemoteProvider_NoKeySkipsNetwork(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	out := newTestRemote(srv.URL, "", time.Second).Segment(context.Background(), testRequest(t, 10, 10))
	require.False(t, out.Success())
	assert.Equal(t, AuthError, out.Err.Kind)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestSameAspect(t *testing.T) {
	t.Parallel()

	assert.True(t, sameAspect(100, 50, 100, 50))
	assert.True(t, sameAspect(1000, 500, 100, 50))
	assert.True(t, sameAspect(333, 250, 1000, 750))
	assert.False(t, sameAspect(100, 100, 100, 50))
	assert.False(t, sameAspect(0, 10, 10, 10))
}
