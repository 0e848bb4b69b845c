package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam 描述一次请求。Body 可以是 nil、io.Reader、[]byte 或任意可 JSON 编码的值；
// Response 可以是 nil、接收原始响应体的 *[]byte，或用于 JSON 解码的指针
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       interface{}
	Response   interface{}

	// 请求成功后填充
	ResponseHeader http.Header

	Timeout time.Duration
}

// StatusError 非 2xx 响应返回的错误
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP request failed with status %d: %s", e.StatusCode, string(e.Body))
}
