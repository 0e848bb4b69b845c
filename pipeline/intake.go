package pipeline

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Intake 在流程开始前校验上传
type Intake struct {
	maxSize      int64
	allowedTypes []string
}

func NewIntake(maxSize int64, allowedTypes []string) *Intake {
	return &Intake{maxSize: maxSize, allowedTypes: allowedTypes}
}

func (in *Intake) MaxSize() int64 { return in.maxSize }

// Validate 检查声明类型和大小，并确认内容与声明类型一致；不访问网络和模型
func (in *Intake) Validate(data []byte, declaredMIME string, size int64) error {
	if size > in.maxSize || int64(len(data)) > in.maxSize {
		return NewError(InputValidation, fmt.Sprintf("image is larger than %d MB", in.maxSize/(1024*1024)), nil)
	}
	if len(data) == 0 {
		return NewError(InputValidation, "empty upload", nil)
	}

	declared := normalizeMIME(declaredMIME)
	if !in.isAllowedType(declared) {
		return NewError(InputValidation, fmt.Sprintf("unsupported file type %q", declaredMIME), nil)
	}

	detected := normalizeMIME(mimetype.Detect(data).String())
	if !in.isAllowedType(detected) {
		return NewError(InputValidation, fmt.Sprintf("content is %s, not an accepted image", detected), nil)
	}
	if detected != declared {
		return NewError(InputValidation, fmt.Sprintf("declared %s but content is %s", declared, detected), nil)
	}
	return nil
}

// Accept 校验并包装上传
func (in *Intake) Accept(data []byte, declaredMIME, filename string) (*SourceImage, error) {
	if err := in.Validate(data, declaredMIME, int64(len(data))); err != nil {
		return nil, err
	}
	return NewSourceImage(data, normalizeMIME(declaredMIME), filename)
}

func (in *Intake) isAllowedType(contentType string) bool {
	for _, allowed := range in.allowedTypes {
		if strings.EqualFold(contentType, normalizeMIME(allowed)) {
			return true
		}
	}
	return false
}

func normalizeMIME(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if s == "image/jpg" || s == "image/pjpeg" {
		return "image/jpeg"
	}
	return s
}
