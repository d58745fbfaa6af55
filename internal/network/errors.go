package network

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyHandled 拦截决定已经下发过
	ErrAlreadyHandled = errors.New("request is already handled")
	// ErrInterceptionNotEnabled 未开启请求拦截时调用了拦截方法
	ErrInterceptionNotEnabled = errors.New("request interception is not enabled")
	// ErrUnknownErrorCode Abort 传入了未知错误码
	ErrUnknownErrorCode = errors.New("unknown error code")
	// ErrRedirected 重定向响应没有响应体
	ErrRedirected = errors.New("response body is unavailable for redirect responses")
	// ErrMissingResponse 决定为 respond 但没有缓存的模拟响应
	ErrMissingResponse = errors.New("response is missing for the interception")
)

func unknownErrorCode(code string) error {
	return fmt.Errorf("%w: %s", ErrUnknownErrorCode, code)
}

// isInvalidHeader 浏览器拒绝了覆盖的请求头，这类错误需要交还调用方
func isInvalidHeader(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Invalid header")
}
