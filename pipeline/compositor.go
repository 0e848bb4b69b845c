package pipeline

import (
	"fmt"
	"image"
)

// Composite 按掩码合成前景与背景。掩码值不低于 threshold 的像素保留原色和透明度，
// 其余像素取背景。只分配新结果、没有其他副作用，相同输入得到逐字节相同的输出
func Composite(raster *image.NRGBA, mask *Mask, bg ResolvedBackground, threshold float32) (*image.NRGBA, error) {
	w, h := raster.Bounds().Dx(), raster.Bounds().Dy()
	if mask == nil {
		return nil, NewError(DimensionMismatch, "missing mask", nil)
	}
	if err := mask.Validate(); err != nil {
		return nil, NewError(DimensionMismatch, err.Error(), nil)
	}
	if mask.Width != w || mask.Height != h {
		return nil, NewError(DimensionMismatch,
			fmt.Sprintf("mask %dx%d, raster %dx%d", mask.Width, mask.Height, w, h), nil)
	}
	if bg.Image != nil {
		if bw, bh := bg.Image.Bounds().Dx(), bg.Image.Bounds().Dy(); bw != w || bh != h {
			return nil, NewError(DimensionMismatch,
				fmt.Sprintf("background %dx%d, raster %dx%d", bw, bh, w, h), nil)
		}
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))

	// 背景层
	if bg.Image != nil {
		for y := 0; y < h; y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+w*4], bg.Image.Pix[bg.Image.PixOffset(bg.Image.Rect.Min.X, bg.Image.Rect.Min.Y+y):])
		}
	} else if bg.Color.A != 0 {
		c := bg.Color
		for i := 0; i < len(out.Pix); i += 4 {
			out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = c.R, c.G, c.B, c.A
		}
	}

	// 前景按掩码门限覆盖
	for y := 0; y < h; y++ {
		src := raster.PixOffset(raster.Rect.Min.X, raster.Rect.Min.Y+y)
		dst := y * out.Stride
		for x := 0; x < w; x++ {
			if mask.Values[y*w+x] >= threshold {
				copy(out.Pix[dst+x*4:dst+x*4+4], raster.Pix[src+x*4:src+x*4+4])
			}
		}
	}

	return out, nil
}
