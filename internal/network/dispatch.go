package network

import (
	"context"
	"strings"

	"cdpnetwatch/internal/session"
	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/traffic"
)

// effects 持锁期间收集、解锁后按顺序执行的回调与命令
type effects []func(ctx context.Context)

func (fx *effects) add(fn func(ctx context.Context)) { *fx = append(*fx, fn) }

func (fx effects) run(ctx context.Context) {
	for _, fn := range fx {
		fn(ctx)
	}
}

// dispatchState 一次事件处理使用的配置快照
type dispatchState struct {
	userInterception     bool
	protocolInterception bool
	credentials          *Credentials
}

// HandleEvent 处理单个会话上的一个协议事件。同一会话的事件需按到达顺序依次调用。
func (m *Manager) HandleEvent(ctx context.Context, s session.Session, ev Event) {
	m.cfgMu.Lock()
	st := dispatchState{
		userInterception:     m.userInterception,
		protocolInterception: m.protocolInterception,
		credentials:          m.credentials,
	}
	m.cfgMu.Unlock()

	var fx effects
	m.mu.Lock()
	switch e := ev.(type) {
	case *RequestWillBeSent:
		m.onRequestWillBeSent(&fx, s, e, st)
	case *RequestPaused:
		m.onRequestPaused(&fx, s, e, st)
	case *AuthRequired:
		m.onAuthRequired(&fx, s, e, st)
	case *RequestWillBeSentExtraInfo:
		m.onRequestWillBeSentExtraInfo(e)
	case *ResponseReceived:
		m.onResponseReceived(&fx, s, e)
	case *ResponseReceivedExtraInfo:
		m.onResponseReceivedExtraInfo(&fx, e, st)
	case *LoadingFinished:
		m.onLoadingFinished(&fx, e)
	case *LoadingFailed:
		m.onLoadingFailed(&fx, e)
	case *RequestServedFromCache:
		m.onRequestServedFromCache(&fx, s, e, st)
	default:
		m.log.Debug("忽略未知事件", "event", EventName(ev))
	}
	m.mu.Unlock()

	fx.run(ctx)
}

func (m *Manager) onRequestWillBeSent(fx *effects, s session.Session, e *RequestWillBeSent, st dispatchState) {
	// 同一请求的重复通知只带来新的请求头
	if req := m.store.getRequest(e.RequestID); req != nil &&
		req.URL() == e.Request.URL && req.Method() == e.Request.Method &&
		(e.RedirectResponse == nil || req.pausedRedirect) {
		for _, extra := range m.store.takeRequestExtraInfo(e.RequestID) {
			req.mergeHeaders(extra.Headers)
		}
		if e.RedirectResponse != nil {
			m.completePausedRedirect(req, e)
		}
		return
	}

	// data: 请求不会被拦截
	if st.userInterception && !strings.HasPrefix(e.Request.URL, "data:") {
		m.store.storeRequestWillBeSent(e.RequestID, e)
		if paused := m.store.getRequestPaused(e.RequestID); paused != nil {
			m.store.forgetRequestPaused(e.RequestID)
			m.materialize(fx, s, joinPaused(e, paused), paused.InterceptionID, false, st)
		}
		return
	}
	m.materialize(fx, s, e, "", false, st)
}

// completePausedRedirect Fetch 一侧先退役了上一跳，用随后到达的重定向响应补全它。
// 重定向响应的 extra info 必须在这里取走，否则会被下一跳的响应误用。
func (m *Manager) completePausedRedirect(req *Request, e *RequestWillBeSent) {
	req.pausedRedirect = false
	var resp *Response
	if prev := req.redirectedFrom(); prev != nil {
		resp = prev.Response()
	}
	if resp != nil {
		resp.applyPayload(e.RedirectResponse)
	}
	if !e.RedirectHasExtraInfo {
		return
	}
	extra := m.store.shiftResponseExtraInfo(e.RequestID)
	if extra == nil {
		req.owesRedirectExtra = true
		return
	}
	if resp != nil && !e.RedirectResponse.FromDiskCache {
		resp.applyExtraInfo(extra)
	}
}

func (m *Manager) onRequestPaused(fx *effects, s session.Session, p *RequestPaused, st dispatchState) {
	// 只为认证开启了 Fetch 域，直接放行
	if !st.userInterception {
		if st.protocolInterception {
			fx.add(func(ctx context.Context) {
				err := s.ContinueRequest(ctx, session.ContinueRequestArgs{InterceptionID: p.InterceptionID})
				m.logReply(err, "Fetch.continueRequest", string(p.InterceptionID))
			})
		}
		return
	}

	// 没有 networkId 的请求不会有 Network 事件
	if p.NetworkID == "" {
		m.materializeWithoutNetwork(fx, s, p, st)
		return
	}
	id := p.NetworkID

	half := m.store.getRequestWillBeSent(id)
	if half != nil && (half.Request.URL != p.Request.URL || half.Request.Method != p.Request.Method) {
		// 重定向前一跳留下的事件
		m.store.forgetRequestWillBeSent(id)
		half = nil
	}
	if half != nil {
		m.materialize(fx, s, joinPaused(half, p), p.InterceptionID, false, st)
		return
	}

	if p.RedirectedRequestID != "" {
		var chain []*Request
		if prev := m.store.getRequest(id); prev != nil {
			m.retireRedirect(fx, prev, &traffic.ResponseData{URL: prev.URL(), Headers: traffic.Header{}}, nil)
			chain = prev.chainWithSelf()
		}
		req := m.newRequest(s, p.InterceptionID, pausedAsRequestWillBeSent(id, p), chain, st)
		req.pausedRedirect = true
		m.register(fx, req)
		return
	}

	if p.ResourceType != model.ResourceDocument {
		req := m.newRequest(s, p.InterceptionID, pausedAsRequestWillBeSent(id, p), nil, st)
		m.register(fx, req)
		return
	}
	m.store.storeRequestPaused(id, p)
}

// materializeWithoutNetwork 只有 Fetch 事件的请求，不登记也不会有后续事件
func (m *Manager) materializeWithoutNetwork(fx *effects, s session.Session, p *RequestPaused, st dispatchState) {
	ev := pausedAsRequestWillBeSent(model.RequestID(p.InterceptionID), p)
	req := m.newRequest(s, p.InterceptionID, ev, nil, st)
	m.emitNewRequest(fx, req)
}

// materialize 由完整的 requestWillBeSent 创建请求，先处理其携带的重定向响应
func (m *Manager) materialize(fx *effects, s session.Session, e *RequestWillBeSent, interceptionID model.InterceptionID, fromMemoryCache bool, st dispatchState) {
	var chain []*Request
	if e.RedirectResponse != nil {
		var extra *ResponseReceivedExtraInfo
		if e.RedirectHasExtraInfo {
			extra = m.store.shiftResponseExtraInfo(e.RequestID)
			if extra == nil {
				m.store.queueRedirectInfo(e.RequestID, &redirectInfo{event: e, interceptionID: interceptionID, sess: s})
				return
			}
		}
		// 晚附加时可能错过了上一跳
		if prev := m.store.getRequest(e.RequestID); prev != nil {
			m.retireRedirect(fx, prev, e.RedirectResponse, extra)
			chain = prev.chainWithSelf()
		}
	}

	req := m.newRequest(s, interceptionID, e, chain, st)
	if fromMemoryCache {
		req.setFromMemoryCache()
	}
	m.register(fx, req)
}

func (m *Manager) newRequest(s session.Session, interceptionID model.InterceptionID, e *RequestWillBeSent, chain []*Request, st dispatchState) *Request {
	allow := st.userInterception && interceptionID != ""
	return newRequest(s, m.log, interceptionID, allow, e, chain)
}

// register 合并排队的请求 extra info，登记为当前请求并发出事件
func (m *Manager) register(fx *effects, req *Request) {
	for _, extra := range m.store.takeRequestExtraInfo(req.ID()) {
		req.mergeHeaders(extra.Headers)
	}
	m.store.storeRequest(req.ID(), req)
	m.emitNewRequest(fx, req)
}

// emitNewRequest 先同步通知监听者，再异步执行拦截决定
func (m *Manager) emitNewRequest(fx *effects, req *Request) {
	fx.add(func(ctx context.Context) {
		m.emitter.emitRequest(model.EventRequest, req)
		go m.finalize(context.WithoutCancel(ctx), req)
	})
}

// retireRedirect 以重定向响应结束上一跳
func (m *Manager) retireRedirect(fx *effects, prev *Request, payload *traffic.ResponseData, extra *ResponseReceivedExtraInfo) {
	if payload.FromDiskCache {
		extra = nil
	}
	resp := newResponse(prev, payload, extra)
	prev.setResponse(resp)
	resp.resolveBody(ErrRedirected)
	m.forgetRequest(prev, false)
	fx.add(func(context.Context) {
		m.emitter.emitResponse(resp)
		m.emitter.emitRequest(model.EventRequestFinished, prev)
	})
}

// forgetRequest 注销请求，purge 时清除该 RequestID 的全部记录
func (m *Manager) forgetRequest(req *Request, purge bool) {
	m.store.forgetRequest(req.ID())
	if id := req.InterceptionID(); id != "" {
		delete(m.attemptedAuth, id)
	}
	if purge {
		m.store.forget(req.ID())
	}
}

func (m *Manager) onRequestWillBeSentExtraInfo(e *RequestWillBeSentExtraInfo) {
	if req := m.store.getRequest(e.RequestID); req != nil {
		req.mergeHeaders(e.Headers)
		return
	}
	m.store.pushRequestExtraInfo(e.RequestID, e)
}

func (m *Manager) onResponseReceived(fx *effects, s session.Session, e *ResponseReceived) {
	req := m.store.getRequest(e.RequestID)
	var extra *ResponseReceivedExtraInfo
	// 内存缓存与磁盘缓存的响应不配对 extra info
	if req != nil && !req.isFromMemoryCache() && !e.Response.FromDiskCache && e.HasExtraInfo {
		extra = m.store.shiftResponseExtraInfo(e.RequestID)
		if extra == nil {
			m.store.queueEventGroup(e.RequestID, &queuedEventGroup{responseReceived: e, sess: s})
			return
		}
	}
	m.handleResponse(fx, e, extra)
}

func (m *Manager) handleResponse(fx *effects, e *ResponseReceived, extra *ResponseReceivedExtraInfo) {
	req := m.store.getRequest(e.RequestID)
	if req == nil {
		m.log.Debug("响应没有对应的请求", "requestId", string(e.RequestID))
		return
	}
	if n := m.store.responseExtraInfoLen(e.RequestID); n > 0 {
		m.log.Debug("存在多余的响应 extra info", "requestId", string(e.RequestID), "count", n)
	}
	if e.Response.FromDiskCache {
		extra = nil
	}
	resp := newResponse(req, &e.Response, extra)
	req.setResponse(resp)
	fx.add(func(context.Context) { m.emitter.emitResponse(resp) })
}

func (m *Manager) onResponseReceivedExtraInfo(fx *effects, e *ResponseReceivedExtraInfo, st dispatchState) {
	id := e.RequestID

	// 重定向在等待这条 extra info
	if info := m.store.takeQueuedRedirectInfo(id); info != nil {
		m.store.pushResponseExtraInfo(id, e)
		m.materialize(fx, info.sess, info.event, info.interceptionID, false, st)
		return
	}

	req := m.store.getRequest(id)
	if req != nil && req.owesRedirectExtra {
		req.owesRedirectExtra = false
		if prev := req.redirectedFrom(); prev != nil {
			if resp := prev.Response(); resp != nil && !resp.FromDiskCache() {
				resp.applyExtraInfo(e)
			}
		}
		return
	}
	if req != nil {
		if resp := req.Response(); resp != nil {
			if !resp.FromDiskCache() {
				resp.applyExtraInfo(e)
			}
			return
		}
	}

	if g := m.store.getQueuedEventGroup(id); g != nil {
		m.store.forgetQueuedEventGroup(id)
		m.handleResponse(fx, g.responseReceived, e)
		return
	}

	if req == nil && !m.store.hasPending(id) {
		m.log.Debug("extra info 没有对应的请求，丢弃", "requestId", string(id))
		return
	}
	m.store.pushResponseExtraInfo(id, e)
}

// flushQueuedEventGroup 终止事件到达时不再等待 extra info
func (m *Manager) flushQueuedEventGroup(fx *effects, id model.RequestID) {
	g := m.store.getQueuedEventGroup(id)
	if g == nil {
		return
	}
	m.store.forgetQueuedEventGroup(id)
	m.handleResponse(fx, g.responseReceived, nil)
}

func (m *Manager) onLoadingFinished(fx *effects, e *LoadingFinished) {
	m.flushQueuedEventGroup(fx, e.RequestID)
	req := m.store.getRequest(e.RequestID)
	if req == nil {
		m.log.Debug("loadingFinished 没有对应的请求", "requestId", string(e.RequestID))
		m.store.forget(e.RequestID)
		return
	}
	// 某些情况下浏览器不会发送 responseReceived
	if resp := req.Response(); resp != nil {
		resp.resolveBody(nil)
	}
	m.forgetRequest(req, true)
	fx.add(func(context.Context) { m.emitter.emitRequest(model.EventRequestFinished, req) })
}

func (m *Manager) onLoadingFailed(fx *effects, e *LoadingFailed) {
	m.flushQueuedEventGroup(fx, e.RequestID)
	req := m.store.getRequest(e.RequestID)
	if req == nil {
		m.log.Debug("loadingFailed 没有对应的请求", "requestId", string(e.RequestID))
		m.store.forget(e.RequestID)
		return
	}
	req.setFailureText(e.ErrorText)
	if resp := req.Response(); resp != nil {
		resp.resolveBody(nil)
	}
	m.forgetRequest(req, true)
	fx.add(func(context.Context) { m.emitter.emitRequest(model.EventRequestFailed, req) })
}

func (m *Manager) onRequestServedFromCache(fx *effects, s session.Session, e *RequestServedFromCache, st dispatchState) {
	req := m.store.getRequest(e.RequestID)
	if req != nil {
		// 内存缓存提供的请求无法拦截
		req.setFromMemoryCache()
	} else if half := m.store.getRequestWillBeSent(e.RequestID); half != nil {
		m.materialize(fx, s, half, "", true, st)
		req = m.store.getRequest(e.RequestID)
	}
	if req == nil {
		m.log.Debug("requestServedFromCache 没有对应的请求", "requestId", string(e.RequestID))
		return
	}
	fx.add(func(context.Context) { m.emitter.emitRequest(model.EventRequestServedFromCache, req) })
}

// joinPaused 合并两半事件，Fetch 一侧的请求头优先
func joinPaused(e *RequestWillBeSent, p *RequestPaused) *RequestWillBeSent {
	joined := *e
	h := e.Request.Headers.Clone()
	h.Merge(p.Request.Headers)
	joined.Request.Headers = h
	return &joined
}

func pausedAsRequestWillBeSent(id model.RequestID, p *RequestPaused) *RequestWillBeSent {
	return &RequestWillBeSent{
		RequestID: id,
		FrameID:   p.FrameID,
		Type:      p.ResourceType,
		Request:   p.Request,
	}
}

// logReply 回复浏览器的命令失败只记录，会话已断开时降为 debug
func (m *Manager) logReply(err error, method, id string) {
	if err == nil {
		return
	}
	if session.IsClosedError(err) {
		m.log.Debug("会话已断开，忽略回复错误", "method", method, "interceptionId", id, "error", err.Error())
		return
	}
	m.log.Err(err, "回复浏览器失败", "method", method, "interceptionId", id)
}
