package pipeline

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// BackgroundMode 背景规格当前生效的类型
type BackgroundMode string

const (
	ModeTransparent BackgroundMode = "transparent"
	ModeColor       BackgroundMode = "color"
	ModeImage       BackgroundMode = "image"
)

// RGB 24 位颜色
type RGB struct {
	R, G, B uint8
}

// Hex 输出不带 '#' 的 rrggbb
func (c RGB) Hex() string {
	return fmt.Sprintf("%02x%02x%02x", c.R, c.G, c.B)
}

// ParseHexColor 支持 "#rrggbb"、"rrggbb"、"#rgb"、"rgb"
func ParseHexColor(s string) (RGB, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return RGB{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// BackgroundSpec 背景规格，同一时刻只有一种类型生效
type BackgroundSpec struct {
	mode  BackgroundMode
	color RGB
	image []byte
}

func TransparentBackground() BackgroundSpec {
	return BackgroundSpec{mode: ModeTransparent}
}

func ColorBackground(c RGB) BackgroundSpec {
	return BackgroundSpec{mode: ModeColor, color: c}
}

func ImageBackground(data []byte) BackgroundSpec {
	return BackgroundSpec{mode: ModeImage, image: data}
}

// Mode 零值为透明背景
func (s BackgroundSpec) Mode() BackgroundMode {
	if s.mode == "" {
		return ModeTransparent
	}
	return s.mode
}

// Color 返回颜色，以及是否为纯色背景
func (s BackgroundSpec) Color() (RGB, bool) {
	return s.color, s.Mode() == ModeColor
}

// ImageData 图片背景的原始字节
func (s BackgroundSpec) ImageData() []byte {
	return s.image
}

// Key 背景规格的标识，Key 相同则合成结果相同
func (s BackgroundSpec) Key() string {
	switch s.Mode() {
	case ModeColor:
		return "color:" + s.color.Hex()
	case ModeImage:
		sum := md5.Sum(s.image)
		return "image:" + hex.EncodeToString(sum[:])
	default:
		return "transparent"
	}
}

func (s BackgroundSpec) String() string { return s.Key() }

// ResolvedBackground 校验过、可逐像素采样的背景
type ResolvedBackground struct {
	Spec  BackgroundSpec
	Color color.NRGBA
	Image *image.NRGBA
}

// ResolveBackground 校验背景规格；图片背景会解码并拉伸到 w×h
func ResolveBackground(spec BackgroundSpec, w, h int) (ResolvedBackground, error) {
	switch spec.Mode() {
	case ModeTransparent:
		return ResolvedBackground{Spec: spec, Color: color.NRGBA{}}, nil
	case ModeColor:
		c := spec.color
		return ResolvedBackground{Spec: spec, Color: color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255}}, nil
	case ModeImage:
		bg, err := DecodeBackground(spec.image)
		if err != nil {
			return ResolvedBackground{}, err
		}
		stretched := imaging.Resize(bg, w, h, imaging.Linear)
		return ResolvedBackground{Spec: spec, Image: stretched}, nil
	default:
		return ResolvedBackground{}, NewError(InvalidBackgroundAsset, "unknown background mode "+string(spec.mode), nil)
	}
}

// DecodeBackground 完整解码图片背景，失败返回 InvalidBackgroundAsset
func DecodeBackground(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, NewError(InvalidBackgroundAsset, "empty background image", nil)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, NewError(InvalidBackgroundAsset, "decode background image", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, NewError(InvalidBackgroundAsset, "empty background image", nil)
	}
	return img, nil
}

// ValidateBackground 在背景规格写入会话状态之前执行。图片背景完整解码，
// 头部正常但数据截断的文件要在这里失败，而不是等到分割之后
func ValidateBackground(spec BackgroundSpec) error {
	switch spec.Mode() {
	case ModeTransparent, ModeColor:
		return nil
	case ModeImage:
		_, err := DecodeBackground(spec.image)
		return err
	default:
		return NewError(InvalidBackgroundAsset, "unknown background mode "+string(spec.mode), nil)
	}
}
