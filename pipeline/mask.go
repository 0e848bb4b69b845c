package pipeline

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// DefaultThreshold 掩码值 ≥ 0.5 视为前景
const DefaultThreshold float32 = 0.5

// Mask 逐像素前景分数，取值 [0,1]，行优先，1 为前景
type Mask struct {
	Width  int
	Height int
	Values []float32
}

func NewMask(w, h int) *Mask {
	return &Mask{Width: w, Height: h, Values: make([]float32, w*h)}
}

// Fill 全部设为 v
func (m *Mask) Fill(v float32) *Mask {
	for i := range m.Values {
		m.Values[i] = v
	}
	return m
}

func (m *Mask) At(x, y int) float32 {
	return m.Values[y*m.Width+x]
}

func (m *Mask) Set(x, y int, v float32) {
	m.Values[y*m.Width+x] = clamp01(v)
}

// Foreground 像素 i 是否达到阈值
func (m *Mask) Foreground(i int, threshold float32) bool {
	return m.Values[i] >= threshold
}

// HasForeground 是否至少有一个像素达到阈值
func (m *Mask) HasForeground(threshold float32) bool {
	for _, v := range m.Values {
		if v >= threshold {
			return true
		}
	}
	return false
}

// Coverage 达到阈值的像素占比
func (m *Mask) Coverage(threshold float32) float64 {
	if len(m.Values) == 0 {
		return 0
	}
	n := 0
	for _, v := range m.Values {
		if v >= threshold {
			n++
		}
	}
	return float64(n) / float64(len(m.Values))
}

func (m *Mask) Validate() error {
	if m.Width <= 0 || m.Height <= 0 || len(m.Values) != m.Width*m.Height {
		return fmt.Errorf("malformed mask %dx%d with %d values", m.Width, m.Height, len(m.Values))
	}
	return nil
}

// Gray 编码为 8 位灰度图，255 为前景
func (m *Mask) Gray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		row := y * g.Stride
		for x := 0; x < m.Width; x++ {
			g.Pix[row+x] = uint8(m.Values[y*m.Width+x]*255 + 0.5)
		}
	}
	return g
}

// MaskFromGray 以亮度作为前景分数
func MaskFromGray(img image.Image) *Mask {
	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < m.Height; y++ {
			row := g.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < m.Width; x++ {
				m.Values[y*m.Width+x] = float32(g.Pix[row+x]) / 255
			}
		}
		return m
	}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			m.Values[y*m.Width+x] = float32(c.Y) / 255
		}
	}
	return m
}

// MaskFromAlpha 以 alpha 通道作为前景分数
func MaskFromAlpha(img image.Image) *Mask {
	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			_, _, _, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			m.Values[y*m.Width+x] = float32(a) / 0xffff
		}
	}
	return m
}

// hasUsefulAlpha 检查 alpha 通道是否真的包含透明信息
func hasUsefulAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}

// ScaleMask 双线性插值缩放到 w×h
func ScaleMask(m *Mask, w, h int) *Mask {
	if m.Width == w && m.Height == h {
		return m
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), m.Gray(), image.Rect(0, 0, m.Width, m.Height), draw.Src, nil)
	return MaskFromGray(dst)
}

// MaskFromScores 把网络输出的 [0,1] 概率拉伸到整个区间。
// 最高分低于 floor 说明图中没有显著目标，返回全背景掩码。
func MaskFromScores(w, h int, scores []float32, floor float32) (*Mask, error) {
	m := NewMask(w, h)
	if len(scores) < len(m.Values) {
		return nil, fmt.Errorf("got %d scores for a %dx%d mask", len(scores), w, h)
	}
	scores = scores[:len(m.Values)]

	lo, hi := clamp01(scores[0]), clamp01(scores[0])
	for _, v := range scores {
		v = clamp01(v)
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if hi < floor {
		return m, nil
	}
	span := hi - lo
	for i, v := range scores {
		if span <= 0 {
			m.Values[i] = clamp01(v)
			continue
		}
		m.Values[i] = (clamp01(v) - lo) / span
	}
	return m, nil
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
