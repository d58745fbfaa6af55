package network

import (
	"sync"
	"time"

	"cdpnetwatch/internal/logger"
	"cdpnetwatch/pkg/model"
)

// RequestListener 请求类事件的回调
type RequestListener func(*Request)

// ResponseListener 响应事件的回调
type ResponseListener func(*Response)

// emitter 应用层事件分发，回调按注册顺序同步执行
type emitter struct {
	log logger.Logger

	mu          sync.RWMutex
	onRequest   []RequestListener
	onResponse  []ResponseListener
	onFinished  []RequestListener
	onFailed    []RequestListener
	onFromCache []RequestListener
	subs        map[int]chan model.NetworkEvent
	nextSub     int
}

func newEmitter(l logger.Logger) *emitter {
	return &emitter{log: l, subs: make(map[int]chan model.NetworkEvent)}
}

func (e *emitter) addRequest(list *[]RequestListener, fn RequestListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	*list = append(*list, fn)
}

func (e *emitter) addResponse(fn ResponseListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onResponse = append(e.onResponse, fn)
}

// subscribe 注册一个事件通道，返回取消函数
func (e *emitter) subscribe(buffer int) (<-chan model.NetworkEvent, func()) {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan model.NetworkEvent, buffer)

	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			close(ch)
		})
	}
}

func (e *emitter) requestListeners(t model.EventType) []RequestListener {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var list []RequestListener
	switch t {
	case model.EventRequest:
		list = e.onRequest
	case model.EventRequestFinished:
		list = e.onFinished
	case model.EventRequestFailed:
		list = e.onFailed
	case model.EventRequestServedFromCache:
		list = e.onFromCache
	}
	return append([]RequestListener(nil), list...)
}

func (e *emitter) emitRequest(t model.EventType, req *Request) {
	for _, fn := range e.requestListeners(t) {
		fn(req)
	}
	e.publish(toNetworkEvent(t, req))
}

func (e *emitter) emitResponse(resp *Response) {
	e.mu.RLock()
	list := append([]ResponseListener(nil), e.onResponse...)
	e.mu.RUnlock()
	for _, fn := range list {
		fn(resp)
	}
	e.publish(toNetworkEvent(model.EventResponse, resp.Request()))
}

// publish 通道写满时丢弃事件，不阻塞事件循环
func (e *emitter) publish(ev model.NetworkEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.log.Warn("事件通道已满，丢弃事件", "type", string(ev.Type), "requestId", string(ev.RequestID))
		}
	}
}

// toNetworkEvent 把请求当前状态展开为扁平事件
func toNetworkEvent(t model.EventType, req *Request) model.NetworkEvent {
	ev := model.NetworkEvent{
		Type:           t,
		Session:        req.SessionID(),
		RequestID:      req.ID(),
		InterceptionID: req.InterceptionID(),
		URL:            req.URL(),
		Method:         req.Method(),
		ResourceType:   req.ResourceType(),
		Headers:        req.Headers(),
		FromCache:      req.FromCache(),
		ErrorText:      req.Failure(),
		RedirectCount:  len(req.RedirectChain()),
		Timestamp:      time.Now().UnixMilli(),
	}
	if resp := req.Response(); resp != nil {
		ev.StatusCode = resp.Status()
		ev.StatusText = resp.StatusText()
	}
	return ev
}
