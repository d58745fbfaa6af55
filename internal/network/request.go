package network

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"cdpnetwatch/internal/logger"
	"cdpnetwatch/internal/session"
	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/traffic"
)

// Request 一次网络交换中的一跳
type Request struct {
	sess session.Session
	log  logger.Logger

	id                model.RequestID
	interceptionID    model.InterceptionID
	allowInterception bool
	url               string
	method            string
	postData          string
	hasPostData       bool
	resourceType      model.ResourceType
	frameID           model.FrameID
	isNavigation      bool
	pausedRedirect    bool // 由带 redirectedRequestId 的 requestPaused 创建
	owesRedirectExtra bool // 上一跳的重定向 extra info 尚未到达

	mu              sync.Mutex
	headers         traffic.Header
	redirectChain   []*Request
	fromMemoryCache bool
	failureText     string
	response        *Response

	// 拦截状态
	handled           bool
	resolution        resolution
	continueOverrides ContinueOverrides
	mockResponse      *MockResponse
	abortReason       model.ErrorReason
	actions           []InterceptAction
	finalized         chan struct{}
	finalizeOnce      sync.Once
}

func newRequest(
	sess session.Session,
	l logger.Logger,
	interceptionID model.InterceptionID,
	allowInterception bool,
	ev *RequestWillBeSent,
	redirectChain []*Request,
) *Request {
	return &Request{
		sess:              sess,
		log:               l.With("requestId", string(ev.RequestID)),
		id:                ev.RequestID,
		interceptionID:    interceptionID,
		allowInterception: allowInterception,
		url:               ev.Request.URL,
		method:            ev.Request.Method,
		postData:          ev.Request.PostData,
		hasPostData:       ev.Request.HasPostData,
		resourceType:      ev.Type,
		frameID:           ev.FrameID,
		isNavigation:      string(ev.RequestID) == string(ev.LoaderID) && ev.Type == model.ResourceDocument,
		headers:           ev.Request.Headers.Clone(),
		redirectChain:     redirectChain,
		resolution:        newResolution(),
		finalized:         make(chan struct{}),
	}
}

// ID Network 域的请求标识，重定向各跳共用
func (r *Request) ID() model.RequestID { return r.id }

// InterceptionID Fetch 拦截句柄，未拦截时为空
func (r *Request) InterceptionID() model.InterceptionID { return r.interceptionID }

// URL 请求地址，包含 fragment
func (r *Request) URL() string { return r.url }

// Method 请求方法
func (r *Request) Method() string { return r.method }

// PostData 请求体，浏览器未提供时为空
func (r *Request) PostData() string { return r.postData }

// HasPostData 是否带有请求体
func (r *Request) HasPostData() bool { return r.hasPostData }

// ResourceType 资源类型
func (r *Request) ResourceType() model.ResourceType { return r.resourceType }

// FrameID 发起请求的 frame
func (r *Request) FrameID() model.FrameID { return r.frameID }

// IsNavigationRequest 是否为 frame 的文档导航请求
func (r *Request) IsNavigationRequest() bool { return r.isNavigation }

// SessionID 收到该请求的 CDP 会话
func (r *Request) SessionID() model.SessionID { return r.sess.ID() }

// InterceptionAllowed 是否可以调用 Continue、Respond、Abort
func (r *Request) InterceptionAllowed() bool { return r.allowInterception }

// Finalized 拦截决定下发（或确定不下发）后关闭
func (r *Request) Finalized() <-chan struct{} { return r.finalized }

func (r *Request) isDataURL() bool { return strings.HasPrefix(r.url, "data:") }

func (r *Request) String() string { return r.method + " " + r.url }

// Headers 返回请求头拷贝
func (r *Request) Headers() traffic.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headers.Clone()
}

// Header 获取单个请求头
func (r *Request) Header(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headers.Get(name)
}

// RedirectChain 之前的各跳，最早的在前
func (r *Request) RedirectChain() []*Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Request(nil), r.redirectChain...)
}

// Response 当前响应，尚未收到时为 nil
func (r *Request) Response() *Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response
}

// FromCache 是否由内存缓存或磁盘缓存提供
func (r *Request) FromCache() bool {
	r.mu.Lock()
	resp := r.response
	mem := r.fromMemoryCache
	r.mu.Unlock()
	return mem || (resp != nil && resp.FromDiskCache())
}

// Failure 加载失败时的错误文本
func (r *Request) Failure() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failureText
}

func (r *Request) mergeHeaders(h traffic.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headers.Merge(h)
}

func (r *Request) setResponse(resp *Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.response = resp
}

func (r *Request) setFromMemoryCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fromMemoryCache = true
}

func (r *Request) isFromMemoryCache() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fromMemoryCache
}

func (r *Request) setFailureText(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failureText = text
}

// redirectedFrom 重定向链中的上一跳
func (r *Request) redirectedFrom() *Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.redirectChain); n > 0 {
		return r.redirectChain[n-1]
	}
	return nil
}

// chainWithSelf 返回下一跳使用的重定向链
func (r *Request) chainWithSelf() []*Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := make([]*Request, 0, len(r.redirectChain)+1)
	chain = append(chain, r.redirectChain...)
	return append(chain, r)
}

// InterceptResolution 当前拦截决定
func (r *Request) InterceptResolution() InterceptResolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolutionLocked()
}

func (r *Request) resolutionLocked() InterceptResolution {
	if !r.allowInterception {
		return InterceptResolution{Action: ActionDisabled}
	}
	if r.handled {
		return InterceptResolution{Action: ActionAlreadyHandled}
	}
	return r.resolution.snapshot()
}

// ContinueRequestOverrides 协作模式下缓存的 continue 覆盖项
func (r *Request) ContinueRequestOverrides() ContinueOverrides {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.continueOverrides
}

// ResponseForRequest 协作模式下缓存的模拟响应
func (r *Request) ResponseForRequest() *MockResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mockResponse
}

// AbortErrorReason 协作模式下缓存的失败原因
func (r *Request) AbortErrorReason() model.ErrorReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abortReason
}

// EnqueueInterceptAction 注册一个在最终决定前执行的处理函数
func (r *Request) EnqueueInterceptAction(fn InterceptAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, fn)
}

func (r *Request) nextAction() InterceptAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.actions) == 0 {
		return nil
	}
	fn := r.actions[0]
	r.actions = r.actions[1:]
	return fn
}

func (r *Request) checkInterceptableLocked() error {
	if !r.allowInterception {
		return ErrInterceptionNotEnabled
	}
	if r.handled {
		return ErrAlreadyHandled
	}
	return nil
}

// Continue 放行请求。不带优先级时立即下发，带优先级时参与协作式决定。
func (r *Request) Continue(ctx context.Context, overrides ContinueOverrides, opts ...ResolveOption) error {
	// data: 请求不支持拦截
	if r.isDataURL() {
		return nil
	}
	o := collectOptions(opts)

	r.mu.Lock()
	if err := r.checkInterceptableLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	if o.priority == nil {
		r.handled = true
		r.mu.Unlock()
		return r.continueRequest(ctx, overrides)
	}
	if r.resolution.offerContinue(*o.priority) {
		r.continueOverrides = overrides
	}
	r.mu.Unlock()
	return nil
}

// Respond 以模拟响应完成请求
func (r *Request) Respond(ctx context.Context, resp MockResponse, opts ...ResolveOption) error {
	if r.isDataURL() {
		return nil
	}
	o := collectOptions(opts)

	r.mu.Lock()
	if err := r.checkInterceptableLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	if o.priority == nil {
		r.handled = true
		r.mu.Unlock()
		return r.respond(ctx, resp)
	}
	if r.resolution.offerRespond(*o.priority) {
		r.mockResponse = &resp
	}
	r.mu.Unlock()
	return nil
}

// Abort 以指定错误码中止请求，空码等同 "failed"
func (r *Request) Abort(ctx context.Context, code string, opts ...ResolveOption) error {
	if r.isDataURL() {
		return nil
	}
	reason, ok := ErrorReasonFor(code)
	if !ok {
		return unknownErrorCode(code)
	}
	o := collectOptions(opts)

	r.mu.Lock()
	if err := r.checkInterceptableLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	if o.priority == nil {
		r.handled = true
		r.mu.Unlock()
		return r.abort(ctx, reason)
	}
	if r.resolution.offerAbort(*o.priority) {
		r.abortReason = reason
	}
	r.mu.Unlock()
	return nil
}

// finalizeInterceptions 依次执行延迟处理函数，然后按胜出的决定下发唯一一条命令
func (r *Request) finalizeInterceptions(ctx context.Context) {
	defer r.finalizeOnce.Do(func() { close(r.finalized) })

	for fn := r.nextAction(); fn != nil; fn = r.nextAction() {
		if err := fn(ctx); err != nil {
			r.log.Err(err, "拦截处理函数执行失败")
		}
	}

	r.mu.Lock()
	res := r.resolutionLocked()
	switch res.Action {
	case ActionContinue, ActionRespond, ActionAbort:
		r.handled = true
	default:
		r.mu.Unlock()
		return
	}
	overrides := r.continueOverrides
	mock := r.mockResponse
	reason := r.abortReason
	r.mu.Unlock()

	var err error
	switch res.Action {
	case ActionAbort:
		err = r.abort(ctx, reason)
	case ActionRespond:
		if mock == nil {
			err = ErrMissingResponse
			break
		}
		err = r.respond(ctx, *mock)
	case ActionContinue:
		err = r.continueRequest(ctx, overrides)
	}
	if err != nil {
		r.log.Err(err, "下发拦截决定失败", "action", string(res.Action))
	}
}

func (r *Request) continueRequest(ctx context.Context, ov ContinueOverrides) error {
	err := r.sess.ContinueRequest(ctx, session.ContinueRequestArgs{
		InterceptionID: r.interceptionID,
		URL:            ov.URL,
		Method:         ov.Method,
		PostData:       ov.PostData,
		Headers:        ov.Headers,
	})
	if err != nil {
		r.resetHandled()
	}
	return r.replyError(err, "Fetch.continueRequest")
}

func (r *Request) respond(ctx context.Context, resp MockResponse) error {
	headers := make(traffic.Header, len(resp.Headers)+2)
	headers.Merge(resp.Headers)
	if resp.ContentType != "" {
		headers.Set("content-type", resp.ContentType)
	}
	if len(resp.Body) > 0 && headers.Get("content-length") == "" {
		headers.Set("content-length", strconv.Itoa(len(resp.Body)))
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	err := r.sess.FulfillRequest(ctx, session.FulfillRequestArgs{
		InterceptionID: r.interceptionID,
		Status:         status,
		Phrase:         http.StatusText(status),
		Headers:        headers,
		Body:           resp.Body,
	})
	if err != nil {
		r.resetHandled()
	}
	return r.replyError(err, "Fetch.fulfillRequest")
}

func (r *Request) abort(ctx context.Context, reason model.ErrorReason) error {
	err := r.sess.FailRequest(ctx, session.FailRequestArgs{
		InterceptionID: r.interceptionID,
		Reason:         reason,
	})
	return r.replyError(err, "Fetch.failRequest")
}

func (r *Request) resetHandled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled = false
}

// replyError 请求可能已被取消或页面已关闭，除非请求头非法，否则只记录不返回
func (r *Request) replyError(err error, method string) error {
	if err == nil {
		return nil
	}
	if isInvalidHeader(err) {
		return err
	}
	r.log.Err(err, "回复浏览器失败", "method", method)
	return nil
}
