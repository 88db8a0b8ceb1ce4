// Package providers 存放各供应商客户端共享的 HTTP 辅助逻辑。
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/BaSui01/sophia/types"
)

// ReadErrorMessage 从错误响应体里尽力提取人类可读消息。
func ReadErrorMessage(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil || len(body) == 0 {
		return ""
	}

	// 常见形态 1：{"error": {"message": "..."}}
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}

	// 常见形态 2：{"error": "..."} 或 {"message": "..."}
	var flat struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &flat) == nil {
		if flat.Error != "" {
			return flat.Error
		}
		if flat.Message != "" {
			return flat.Message
		}
	}
	return string(body)
}

// MapHTTPError 把上游 HTTP 状态码映射为统一错误分类。
func MapHTTPError(status int, msg, provider string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.ErrUnauthorized,
			fmt.Sprintf("provider rejected credentials: %s", msg)).
			WithProvider(provider)
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited,
			fmt.Sprintf("provider rate limited: %s", msg)).
			WithProvider(provider).WithRetryable(true)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamTimeout,
			fmt.Sprintf("provider timed out: %s", msg)).
			WithProvider(provider).WithRetryable(true)
	case status >= 500:
		return types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("provider returned status %d: %s", status, msg)).
			WithProvider(provider).WithRetryable(true)
	case status >= 400:
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("provider returned status %d: %s", status, msg)).
			WithProvider(provider)
	default:
		return types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("provider returned unexpected status %d: %s", status, msg)).
			WithProvider(provider)
	}
}

// MapTransportError 把连接层错误映射为统一错误分类。
func MapTransportError(ctx context.Context, err error, provider string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if ctxErr == context.DeadlineExceeded {
			return types.NewError(types.ErrUpstreamTimeout, "provider call exceeded deadline").
				WithCause(err).WithProvider(provider).WithRetryable(true)
		}
		return ctxErr
	}
	return types.NewError(types.ErrUpstreamError, "provider unreachable").
		WithCause(err).WithProvider(provider).WithRetryable(true)
}
