package llm

import (
	"fmt"
	"net/http"

	"github.com/BaSui01/inkflow/types"
)

// MapHTTPError 把上游服务的 HTTP 状态映射为结构化错误。
// 429 与 5xx 可重试；其余 4xx 属于请求本身的问题，重试无意义。
func MapHTTPError(status int, msg string, service string) *types.Error {
	text := fmt.Sprintf("%s: %s", service, msg)

	switch {
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, text).
			WithHTTPStatus(status).
			WithRetryable(true)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return types.NewError(types.ErrTimeout, text).
			WithHTTPStatus(status).
			WithRetryable(true)
	case status >= 500:
		return types.NewError(types.ErrTransientInfra, text).
			WithHTTPStatus(status).
			WithRetryable(true)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return types.NewError(types.ErrValidation, text).WithHTTPStatus(status)
	default:
		return types.NewError(types.ErrUpstreamError, text).WithHTTPStatus(status)
	}
}
