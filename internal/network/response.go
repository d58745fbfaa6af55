package network

import (
	"context"
	"strings"
	"sync"

	"cdpnetwatch/pkg/traffic"
)

// RemoteAddress 服务端地址
type RemoteAddress struct {
	IP   string
	Port int
}

// Response 请求的响应元数据
type Response struct {
	request *Request

	mu                sync.Mutex
	url               string
	status            int
	statusText        string
	headers           traffic.Header
	mimeType          string
	remoteAddress     RemoteAddress
	fromDiskCache     bool
	fromServiceWorker bool
	fromPrefetchCache bool
	protocol          string
	securityDetails   *traffic.SecurityDetails

	bodyLoaded chan struct{}
	bodyErr    error
	bodyOnce   sync.Once
}

func newResponse(req *Request, payload *traffic.ResponseData, extra *ResponseReceivedExtraInfo) *Response {
	resp := &Response{
		request:    req,
		bodyLoaded: make(chan struct{}),
	}
	resp.setPayloadLocked(payload)
	if extra != nil {
		resp.applyExtraInfoLocked(extra)
	}
	return resp
}

// applyPayload 用迟到的重定向响应替换合成的元数据
func (r *Response) applyPayload(payload *traffic.ResponseData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setPayloadLocked(payload)
}

func (r *Response) setPayloadLocked(payload *traffic.ResponseData) {
	r.url = payload.URL
	r.status = payload.Status
	r.statusText = payload.StatusText
	r.headers = payload.Headers.Clone()
	r.mimeType = payload.MimeType
	r.remoteAddress = RemoteAddress{IP: payload.RemoteIPAddress, Port: payload.RemotePort}
	r.fromDiskCache = payload.FromDiskCache
	r.fromServiceWorker = payload.FromServiceWorker
	r.fromPrefetchCache = payload.FromPrefetchCache
	r.protocol = payload.Protocol
	r.securityDetails = payload.SecurityDetails
}

// applyExtraInfo 合并 responseReceivedExtraInfo 中的头与状态
func (r *Response) applyExtraInfo(extra *ResponseReceivedExtraInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyExtraInfoLocked(extra)
}

func (r *Response) applyExtraInfoLocked(extra *ResponseReceivedExtraInfo) {
	r.headers.Merge(extra.Headers)
	if extra.StatusCode != 0 {
		r.status = extra.StatusCode
	}
	if text := parseStatusText(extra.HeadersText); text != "" {
		r.statusText = text
	}
}

// parseStatusText 从原始响应头首行取出状态描述，例如 "HTTP/1.1 404 Not Found"
func parseStatusText(headersText string) string {
	if headersText == "" {
		return ""
	}
	first, _, _ := strings.Cut(headersText, "\r\n")
	parts := strings.SplitN(first, " ", 3)
	if len(parts) < 3 {
		return ""
	}
	return strings.TrimSpace(parts[2])
}

// Request 响应所属的请求
func (r *Response) Request() *Request { return r.request }

// URL 响应地址
func (r *Response) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}

// Status 状态码，优先取 extra info 中的原始值
func (r *Response) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// StatusText 状态描述
func (r *Response) StatusText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusText
}

// OK 状态码为 0 或 2xx
func (r *Response) OK() bool {
	s := r.Status()
	return s == 0 || (s >= 200 && s <= 299)
}

// Headers 返回响应头拷贝
func (r *Response) Headers() traffic.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headers.Clone()
}

// MimeType 浏览器识别的 MIME 类型
func (r *Response) MimeType() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mimeType
}

// RemoteAddress 服务端地址，缓存响应可能为空
func (r *Response) RemoteAddress() RemoteAddress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remoteAddress
}

// SecurityDetails TLS 信息，非 https 时为 nil
func (r *Response) SecurityDetails() *traffic.SecurityDetails {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.securityDetails
}

// Protocol 协议，例如 h2、http/1.1
func (r *Response) Protocol() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.protocol
}

// FromDiskCache 是否来自磁盘缓存
func (r *Response) FromDiskCache() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fromDiskCache
}

// FromServiceWorker 是否由 Service Worker 提供
func (r *Response) FromServiceWorker() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fromServiceWorker
}

// FromPrefetchCache 是否来自预取缓存
func (r *Response) FromPrefetchCache() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fromPrefetchCache
}

// FromCache 磁盘缓存或请求由内存缓存提供
func (r *Response) FromCache() bool {
	return r.FromDiskCache() || r.request.isFromMemoryCache()
}

// resolveBody 标记响应体已可读取（或不可读取），只生效一次
func (r *Response) resolveBody(err error) {
	r.bodyOnce.Do(func() {
		r.bodyErr = err
		close(r.bodyLoaded)
	})
}

// BodyLoaded 响应体下载结束时关闭
func (r *Response) BodyLoaded() <-chan struct{} { return r.bodyLoaded }

// WaitBody 等待响应体下载结束，重定向响应返回 ErrRedirected
func (r *Response) WaitBody(ctx context.Context) error {
	select {
	case <-r.bodyLoaded:
		return r.bodyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Body 等待下载结束后通过所属会话读取响应体，不做缓存
func (r *Response) Body(ctx context.Context) ([]byte, error) {
	if err := r.WaitBody(ctx); err != nil {
		return nil, err
	}
	return r.request.sess.GetResponseBody(ctx, r.request.id)
}
