package pipeline

import (
	"context"
	"fmt"

	"github.com/Ayushj62/Snapshrinkstool/utils"
)

// MaskCache 缓存分割掩码，同一上传重试时跳过两级分割。未命中和后端错误都不致命
type MaskCache interface {
	Get(ctx context.Context, key string) (*Mask, bool)
	Set(ctx context.Context, key string, m *Mask) error
}

// MaskKey src 在工作尺寸 w×h 下的掩码键
func MaskKey(src *SourceImage, w, h int) string {
	return fmt.Sprintf("mask:%s:%dx%d", utils.BytesMD5(src.Data), w, h)
}
