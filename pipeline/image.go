package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
)

// SourceImage 校验通过的上传，创建后不再修改
type SourceImage struct {
	Data     []byte
	MIMEType string
	Filename string
	Width    int
	Height   int
}

// NewSourceImage 只读取尺寸，不解码整张图
func NewSourceImage(data []byte, mimeType, filename string) (*SourceImage, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, NewError(InputValidation, "unreadable image", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, NewError(InputValidation, fmt.Sprintf("invalid image size %dx%d", cfg.Width, cfg.Height), nil)
	}
	return &SourceImage{
		Data:     data,
		MIMEType: mimeType,
		Filename: filename,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

// Decode 返回原始分辨率像素
func (s *SourceImage) Decode() (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(s.Data))
	if err != nil {
		return nil, NewError(InputValidation, "decode image", err)
	}
	return img, nil
}

// WorkingRaster 推理和合成使用的缩小后栅格，长边不超过配置上限
type WorkingRaster struct {
	Image *image.NRGBA
}

func (r *WorkingRaster) Width() int  { return r.Image.Bounds().Dx() }
func (r *WorkingRaster) Height() int { return r.Image.Bounds().Dy() }

// NewWorkingRaster 解码原图并缩放到 maxDim 以内
func NewWorkingRaster(src *SourceImage, maxDim int) (*WorkingRaster, error) {
	img, err := src.Decode()
	if err != nil {
		return nil, err
	}
	return &WorkingRaster{Image: resizeWithinMax(toNRGBA(img), maxDim)}, nil
}

// FitWithin 按比例把 w×h 缩放到 maxDim 以内，已在范围内的尺寸原样返回
func FitWithin(w, h, maxDim int) (int, int) {
	longest := max(w, h)
	if maxDim <= 0 || longest <= maxDim {
		return w, h
	}
	scale := float64(maxDim) / float64(longest)
	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))
	return min(nw, maxDim), min(nh, maxDim)
}

// resizeWithinMax 缩放（最长边 <= maxSize）
func resizeWithinMax(img *image.NRGBA, maxSize int) *image.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	nw, nh := FitWithin(w, h, maxSize)
	if nw == w && nh == h {
		return img
	}
	resized := resize.Resize(uint(nw), uint(nh), img, resize.Lanczos3)
	return toNRGBA(resized)
}

// toNRGBA 转成原点为 0 的 NRGBA，已经是则直接返回
func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Bounds().Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
