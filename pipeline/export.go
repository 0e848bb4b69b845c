package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
)

// ExportFormat 下载结果的编码格式
type ExportFormat string

const (
	FormatPNG  ExportFormat = "png"
	FormatWebP ExportFormat = "webp"
)

func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

func (f ExportFormat) ContentType() string {
	if f == FormatWebP {
		return "image/webp"
	}
	return "image/png"
}

// Export 编码好的下载结果
type Export struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Encode 无损编码，保留透明通道
func Encode(img image.Image, format ExportFormat) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatWebP:
		if err := webp.Encode(&buf, img, &webp.Options{Lossless: true}); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	default:
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// ExportFilename 由原文件名生成 "<base><suffix>.<ext>"
func ExportFilename(original, suffix string, format ExportFormat) string {
	base := filepath.Base(original)
	if base == "." || base == "/" {
		base = ""
	}
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if base == "" {
		base = "image"
	}
	return base + suffix + "." + string(format)
}
