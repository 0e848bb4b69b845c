package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind 流程可能暴露的失败类型
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	InputValidation
	AuthError
	QuotaError
	TransientError
	InvalidResponse
	NoForegroundDetected
	ModelUnavailable
	DimensionMismatch
	InvalidBackgroundAsset
)

// Category 按处理位置对失败类型分组
type Category string

const (
	CategoryInput       Category = "input"
	CategoryProvider    Category = "provider"
	CategoryCompositing Category = "compositing"
)

var kindNames = map[ErrorKind]string{
	KindUnknown:            "unknown",
	InputValidation:        "input_validation",
	AuthError:              "auth_error",
	QuotaError:             "quota_error",
	TransientError:         "transient_error",
	InvalidResponse:        "invalid_response",
	NoForegroundDetected:   "no_foreground_detected",
	ModelUnavailable:       "model_unavailable",
	DimensionMismatch:      "dimension_mismatch",
	InvalidBackgroundAsset: "invalid_background_asset",
}

var kindMessages = map[ErrorKind]string{
	KindUnknown:            "Background removal failed. Please try again.",
	InputValidation:        "Please upload a supported image file.",
	AuthError:              "Background removal service rejected the credentials.",
	QuotaError:             "Background removal service credit limit reached.",
	TransientError:         "Background removal service is unreachable right now.",
	InvalidResponse:        "Background removal service returned an unreadable result.",
	NoForegroundDetected:   "No foreground objects detected. Please try another image.",
	ModelUnavailable:       "Background removal model is not ready. Please try again later.",
	DimensionMismatch:      "The mask does not match the image size.",
	InvalidBackgroundAsset: "The background image could not be read. Please choose another image.",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Category 失败类型所属分组
func (k ErrorKind) Category() Category {
	switch k {
	case InputValidation:
		return CategoryInput
	case DimensionMismatch, InvalidBackgroundAsset:
		return CategoryCompositing
	default:
		return CategoryProvider
	}
}

// UserMessage 展示给用户的提示
func (k ErrorKind) UserMessage() string {
	if s, ok := kindMessages[k]; ok {
		return s
	}
	return kindMessages[KindUnknown]
}

// ProviderError 单次已分类的失败。输入校验和合成失败也用它表示，保证每个错误都带 Kind
type ProviderError struct {
	Kind    ErrorKind
	Tier    Tier
	Message string
	Err     error
}

func NewError(kind ErrorKind, msg string, cause error) *ProviderError {
	return &ProviderError{Kind: kind, Message: msg, Err: cause}
}

func (e *ProviderError) Error() string {
	s := e.Kind.String()
	if e.Tier != TierNone {
		s = string(e.Tier) + ": " + s
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is 按 Kind 匹配，支持 errors.Is(err, &ProviderError{Kind: QuotaError})
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf 取出错误的 Kind，非流程错误返回 KindUnknown
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var pr *ProviderError
	if errors.As(err, &pr) {
		return pr.Kind
	}
	return KindUnknown
}

// PipelineError 一次运行的最终失败，记录每一级的失败原因
type PipelineError struct {
	Kind   ErrorKind
	Remote *ProviderError
	Local  *ProviderError
}

func (e *PipelineError) Error() string {
	s := "background removal failed: " + e.Kind.String()
	if e.Remote != nil {
		s += "; remote: " + e.Remote.Error()
	}
	if e.Local != nil {
		s += "; local: " + e.Local.Error()
	}
	return s
}

func (e *PipelineError) Unwrap() []error {
	var errs []error
	if e.Local != nil {
		errs = append(errs, e.Local)
	}
	if e.Remote != nil {
		errs = append(errs, e.Remote)
	}
	return errs
}

// UserMessage 本地模型运行过时优先使用它的失败原因
func (e *PipelineError) UserMessage() string {
	if e.Local != nil && e.Local.Kind != ModelUnavailable {
		return e.Local.Kind.UserMessage()
	}
	if e.Kind == NoForegroundDetected {
		return e.Kind.UserMessage()
	}
	if e.Remote != nil {
		return trimPeriod(e.Remote.Kind.UserMessage()) + ", and no fallback model is available."
	}
	return e.Kind.UserMessage()
}

func trimPeriod(s string) string {
	if n := len(s); n > 0 && s[n-1] == '.' {
		return s[:n-1]
	}
	return s
}

// UserMessage 任意错误的用户提示
func UserMessage(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.UserMessage()
	}
	var pr *ProviderError
	if errors.As(err, &pr) {
		return pr.Kind.UserMessage()
	}
	switch {
	case errors.Is(err, ErrNoComposite):
		return "The background changed. Run background removal again before downloading."
	case errors.Is(err, ErrStaleResult):
		return "A newer request replaced this one."
	case errors.Is(err, ErrNoMask):
		return "Remove the background first."
	}
	return KindUnknown.UserMessage()
}

var (
	ErrNoComposite     = errors.New("no current composite result")
	ErrStaleResult     = errors.New("result superseded by a newer request")
	ErrNoMask          = errors.New("no segmentation mask available")
	ErrSessionNotFound = errors.New("session not found")
)
