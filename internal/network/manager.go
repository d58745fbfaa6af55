package network

import (
	"context"
	"sync"

	"cdpnetwatch/internal/logger"
	"cdpnetwatch/internal/session"
	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/traffic"
)

// Credentials HTTP 认证凭据
type Credentials struct {
	Username string
	Password string
}

// Options Manager 配置
type Options struct {
	Logger logger.Logger
}

// Manager 把乱序到达的 Network/Fetch 事件整理成请求、响应事件，并驱动拦截决定
type Manager struct {
	log      logger.Logger
	sessions *session.Manager
	emitter  *emitter

	// mu 保护事件簿记，持锁期间不调用回调也不下发命令
	mu            sync.Mutex
	store         *eventStore
	attemptedAuth map[model.InterceptionID]bool

	// cfgMu 保护需要下发到每个会话的配置
	cfgMu                sync.Mutex
	extraHeaders         traffic.Header
	userAgent            *session.UserAgentOverride
	userCacheDisabled    *bool
	userInterception     bool
	protocolInterception bool
	credentials          *Credentials
	conditions           *session.NetworkConditions

	// finalizeMu 全局串行化拦截决定的下发
	finalizeMu sync.Mutex
}

// New 创建网络管理器
func New(opts Options) *Manager {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		log:           l,
		sessions:      session.NewManager(l),
		emitter:       newEmitter(l),
		store:         newEventStore(),
		attemptedAuth: make(map[model.InterceptionID]bool),
	}
}

// OnRequest 请求被创建时回调，回调中可以调用拦截方法或注册延迟处理函数
func (m *Manager) OnRequest(fn RequestListener) { m.emitter.addRequest(&m.emitter.onRequest, fn) }

// OnResponse 收到响应时回调
func (m *Manager) OnResponse(fn ResponseListener) { m.emitter.addResponse(fn) }

// OnRequestFinished 请求完成（含重定向的旧跳）时回调
func (m *Manager) OnRequestFinished(fn RequestListener) {
	m.emitter.addRequest(&m.emitter.onFinished, fn)
}

// OnRequestFailed 请求失败时回调
func (m *Manager) OnRequestFailed(fn RequestListener) { m.emitter.addRequest(&m.emitter.onFailed, fn) }

// OnRequestServedFromCache 请求由内存缓存提供时回调
func (m *Manager) OnRequestServedFromCache(fn RequestListener) {
	m.emitter.addRequest(&m.emitter.onFromCache, fn)
}

// Subscribe 以通道形式订阅扁平化事件，通道写满时丢弃
func (m *Manager) Subscribe(buffer int) (<-chan model.NetworkEvent, func()) {
	return m.emitter.subscribe(buffer)
}

// InFlightRequestsCount 尚未结束的请求数
func (m *Manager) InFlightRequestsCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.inFlightRequests()
}

// ExtraHTTPHeaders 当前附加请求头的拷贝
func (m *Manager) ExtraHTTPHeaders() traffic.Header {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return m.extraHeaders.Clone()
}

// Sessions 已附加的会话
func (m *Manager) Sessions() []session.Session { return m.sessions.List() }

// finalize 在全局锁内执行请求的拦截决定
func (m *Manager) finalize(ctx context.Context, req *Request) {
	m.finalizeMu.Lock()
	defer m.finalizeMu.Unlock()
	req.finalizeInterceptions(ctx)
}
