package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Ayushj62/Snapshrinkstool/httpclient"
)

// RemoteConfig 外部分割服务配置
type RemoteConfig struct {
	Endpoint  string
	APIKey    string
	Size      string
	Timeout   time.Duration
	Threshold float32
}

// RemoteProvider 调用 remove.bg 兼容接口，只请求 alpha 蒙版作为掩码
type RemoteProvider struct {
	cfg RemoteConfig
	cli httpclient.IClient
	log *zap.Logger
}

func NewRemoteProvider(cfg RemoteConfig, cli httpclient.IClient, log *zap.Logger) *RemoteProvider {
	if cfg.Size == "" {
		cfg.Size = "auto"
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cli == nil {
		cli = httpclient.NewHTTPClient()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RemoteProvider{cfg: cfg, cli: cli, log: log}
}

type apiErrorResponse struct {
	Errors []struct {
		Title string `json:"title"`
		Code  string `json:"code"`
	} `json:"errors"`
}

func (p *RemoteProvider) Segment(ctx context.Context, req Request) ProviderOutcome {
	if p.cfg.APIKey == "" {
		return failure(TierRemote, AuthError, "no API key configured", nil)
	}
	if req.Source == nil || req.Raster == nil {
		return failure(TierRemote, InvalidResponse, "request without source image", nil)
	}

	body, contentType, err := p.buildForm(req)
	if err != nil {
		return failure(TierRemote, TransientError, "build request", err)
	}

	var matte []byte
	param := &httpclient.RequestParam{
		RequestURI: p.cfg.Endpoint,
		Method:     http.MethodPost,
		Header: map[string]string{
			"Content-Type": contentType,
			"X-Api-Key":    p.cfg.APIKey,
			"Accept":       "image/png, application/json",
		},
		Body:     body,
		Response: &matte,
		Timeout:  p.cfg.Timeout,
	}

	start := time.Now()
	if err := p.cli.DoHTTPRequest(ctx, param); err != nil {
		out := p.classify(err)
		p.log.Warn("remote segmentation failed",
			zap.String("request_id", req.ID),
			zap.String("kind", out.Err.Kind.String()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return out
	}

	mask, perr := p.decodeMatte(matte, req)
	if perr != nil {
		return ProviderOutcome{Tier: TierRemote, Err: perr}
	}
	if !mask.HasForeground(p.cfg.Threshold) {
		return failure(TierRemote, NoForegroundDetected, "matte has no foreground", nil)
	}

	p.log.Info("remote segmentation succeeded",
		zap.String("request_id", req.ID),
		zap.Int("matte_bytes", len(matte)),
		zap.Duration("duration", time.Since(start)))
	return success(TierRemote, mask)
}

func (p *RemoteProvider) buildForm(req Request) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	name := filepath.Base(req.Source.Filename)
	if name == "" || name == "." || name == "/" {
		name = "image"
	}
	part, err := writer.CreateFormFile("image_file", name)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(req.Source.Data)); err != nil {
		return nil, "", fmt.Errorf("copy form file: %w", err)
	}

	_ = writer.WriteField("size", p.cfg.Size)
	_ = writer.WriteField("format", "png")
	_ = writer.WriteField("channels", "alpha")
	if c, ok := req.Background.Color(); ok {
		_ = writer.WriteField("bg_color", c.Hex())
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

func (p *RemoteProvider) classify(err error) ProviderOutcome {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return failure(TierRemote, TransientError, "request timed out", err)
		}
		return failure(TierRemote, TransientError, "request failed", err)
	}

	msg := http.StatusText(statusErr.StatusCode)
	var apiErr apiErrorResponse
	if json.Unmarshal(statusErr.Body, &apiErr) == nil && len(apiErr.Errors) > 0 && apiErr.Errors[0].Title != "" {
		msg = apiErr.Errors[0].Title
	}

	switch statusErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return failure(TierRemote, AuthError, msg, err)
	case http.StatusPaymentRequired, http.StatusTooManyRequests:
		return failure(TierRemote, QuotaError, msg, err)
	default:
		return failure(TierRemote, TransientError, msg, err)
	}
}

// decodeMatte 把响应转成与工作栅格对齐的掩码。蒙版须与原图宽高比一致，然后缩放
func (p *RemoteProvider) decodeMatte(data []byte, req Request) (*Mask, *ProviderError) {
	if len(data) == 0 {
		return nil, &ProviderError{Kind: InvalidResponse, Tier: TierRemote, Message: "empty response body"}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ProviderError{Kind: InvalidResponse, Tier: TierRemote, Message: "decode matte", Err: err}
	}

	b := img.Bounds()
	if !sameAspect(b.Dx(), b.Dy(), req.Source.Width, req.Source.Height) {
		return nil, &ProviderError{Kind: InvalidResponse, Tier: TierRemote,
			Message: fmt.Sprintf("matte %dx%d does not match source %dx%d", b.Dx(), b.Dy(), req.Source.Width, req.Source.Height)}
	}

	var mask *Mask
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		mask = MaskFromGray(img)
	default:
		if hasUsefulAlpha(img) {
			mask = MaskFromAlpha(img)
		} else {
			mask = MaskFromGray(img)
		}
	}
	return ScaleMask(mask, req.Raster.Width(), req.Raster.Height()), nil
}

// sameAspect 短边允许一个像素的取整误差
func sameAspect(w1, h1, w2, h2 int) bool {
	if w1 <= 0 || h1 <= 0 || w2 <= 0 || h2 <= 0 {
		return false
	}
	if w1 == w2 && h1 == h2 {
		return true
	}
	if w2 >= h2 {
		expected := float64(w1) * float64(h2) / float64(w2)
		return math.Abs(expected-float64(h1)) <= 1.0
	}
	expected := float64(h1) * float64(w2) / float64(h2)
	return math.Abs(expected-float64(w1)) <= 1.0
}
