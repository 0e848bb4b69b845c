package pipeline

import "context"

// Tier 分割层级
type Tier string

const (
	TierNone   Tier = ""
	TierRemote Tier = "remote"
	TierLocal  Tier = "local"
	TierCache  Tier = "cache"
)

// Request 一次分割的输入。远程读取 Source，本地读取 Raster，结果都与 Raster 对齐
type Request struct {
	ID         string
	Source     *SourceImage
	Raster     *WorkingRaster
	Background BackgroundSpec
}

// SegmentationProvider 为请求生成掩码
type SegmentationProvider interface {
	Segment(ctx context.Context, req Request) ProviderOutcome
}

// ProviderOutcome 一次尝试的结果，创建后不可变
type ProviderOutcome struct {
	Tier Tier
	Mask *Mask
	Err  *ProviderError
}

func (o ProviderOutcome) Success() bool {
	return o.Err == nil && o.Mask != nil
}

func success(tier Tier, m *Mask) ProviderOutcome {
	return ProviderOutcome{Tier: tier, Mask: m}
}

func failure(tier Tier, kind ErrorKind, msg string, cause error) ProviderOutcome {
	return ProviderOutcome{Tier: tier, Err: &ProviderError{Kind: kind, Tier: tier, Message: msg, Err: cause}}
}
