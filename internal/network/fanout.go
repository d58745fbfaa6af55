package network

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"cdpnetwatch/internal/session"
	"cdpnetwatch/pkg/traffic"
)

// applyFunc 把一项配置下发到单个会话
type applyFunc func(ctx context.Context, s session.Session) error

// applyToAll 并发下发到所有已附加会话，已断开会话的错误被忽略
func (m *Manager) applyToAll(ctx context.Context, fn applyFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.sessions.List() {
		g.Go(func() error {
			if err := session.IgnoreClosed(fn(gctx, s)); err != nil {
				return fmt.Errorf("session %s: %w", s.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// AddSession 附加会话并重放全部当前配置，子 frame 的独立会话也走这里
func (m *Manager) AddSession(ctx context.Context, s session.Session) error {
	if !m.sessions.Add(s) {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range []applyFunc{
		func(ctx context.Context, s session.Session) error { return s.EnableNetwork(ctx) },
		m.applyExtraHTTPHeaders,
		m.applyNetworkConditions,
		m.applyCacheDisabled,
		m.applyProtocolInterception,
		m.applyUserAgent,
	} {
		g.Go(func() error { return session.IgnoreClosed(fn(gctx, s)) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("configure session %s: %w", s.ID(), err)
	}
	m.log.Info("会话已附加", "sessionID", string(s.ID()))
	return nil
}

// RemoveSession 会话断开后移除，不再向其下发配置
func (m *Manager) RemoveSession(s session.Session) {
	if m.sessions.Delete(s.ID()) {
		m.log.Info("会话已移除", "sessionID", string(s.ID()))
	}
}

// SetExtraHTTPHeaders 为之后的所有请求附加请求头，键统一为小写
func (m *Manager) SetExtraHTTPHeaders(ctx context.Context, headers map[string]string) error {
	h := make(traffic.Header, len(headers))
	for k, v := range headers {
		h[strings.ToLower(k)] = v
	}
	m.cfgMu.Lock()
	m.extraHeaders = h
	m.cfgMu.Unlock()
	return m.applyToAll(ctx, m.applyExtraHTTPHeaders)
}

func (m *Manager) applyExtraHTTPHeaders(ctx context.Context, s session.Session) error {
	m.cfgMu.Lock()
	if m.extraHeaders == nil {
		m.cfgMu.Unlock()
		return nil
	}
	h := m.extraHeaders.Clone()
	m.cfgMu.Unlock()
	return s.SetExtraHTTPHeaders(ctx, h)
}

// SetUserAgent 覆盖 User-Agent，acceptLanguage、platform 可为空
func (m *Manager) SetUserAgent(ctx context.Context, userAgent, acceptLanguage, platform string) error {
	m.cfgMu.Lock()
	m.userAgent = &session.UserAgentOverride{
		UserAgent:      userAgent,
		AcceptLanguage: acceptLanguage,
		Platform:       platform,
	}
	m.cfgMu.Unlock()
	return m.applyToAll(ctx, m.applyUserAgent)
}

func (m *Manager) applyUserAgent(ctx context.Context, s session.Session) error {
	m.cfgMu.Lock()
	ua := m.userAgent
	m.cfgMu.Unlock()
	if ua == nil {
		return nil
	}
	return s.SetUserAgentOverride(ctx, *ua)
}

// SetCacheEnabled 开关浏览器缓存
func (m *Manager) SetCacheEnabled(ctx context.Context, enabled bool) error {
	disabled := !enabled
	m.cfgMu.Lock()
	m.userCacheDisabled = &disabled
	m.cfgMu.Unlock()
	return m.applyToAll(ctx, m.applyCacheDisabled)
}

func (m *Manager) applyCacheDisabled(ctx context.Context, s session.Session) error {
	m.cfgMu.Lock()
	disabled := m.userCacheDisabled
	m.cfgMu.Unlock()
	if disabled == nil {
		return nil
	}
	return s.SetCacheDisabled(ctx, *disabled)
}

// SetOfflineMode 切换离线模式，保留已设置的节流参数
func (m *Manager) SetOfflineMode(ctx context.Context, offline bool) error {
	m.cfgMu.Lock()
	if m.conditions == nil {
		m.conditions = &session.NetworkConditions{Download: -1, Upload: -1}
	}
	m.conditions.Offline = offline
	m.cfgMu.Unlock()
	return m.applyToAll(ctx, m.applyNetworkConditions)
}

// EmulateNetworkConditions 设置网络节流，nil 表示取消节流，保留离线状态
func (m *Manager) EmulateNetworkConditions(ctx context.Context, c *session.NetworkConditions) error {
	m.cfgMu.Lock()
	if m.conditions == nil {
		m.conditions = &session.NetworkConditions{}
	}
	if c != nil {
		m.conditions.Latency = c.Latency
		m.conditions.Download = c.Download
		m.conditions.Upload = c.Upload
	} else {
		m.conditions.Latency = 0
		m.conditions.Download = -1
		m.conditions.Upload = -1
	}
	m.cfgMu.Unlock()
	return m.applyToAll(ctx, m.applyNetworkConditions)
}

func (m *Manager) applyNetworkConditions(ctx context.Context, s session.Session) error {
	m.cfgMu.Lock()
	var c *session.NetworkConditions
	if m.conditions != nil {
		cp := *m.conditions
		c = &cp
	}
	m.cfgMu.Unlock()
	if c == nil {
		return nil
	}
	return s.EmulateNetworkConditions(ctx, *c)
}

// SetRequestInterception 开关用户拦截，开启后每个请求都需要一个拦截决定
func (m *Manager) SetRequestInterception(ctx context.Context, enabled bool) error {
	m.cfgMu.Lock()
	m.userInterception = enabled
	changed := m.updateProtocolInterceptionLocked()
	m.cfgMu.Unlock()
	if !changed {
		return nil
	}
	return m.applyToAll(ctx, m.applyProtocolInterception)
}

// Authenticate 设置认证凭据，nil 表示清除
func (m *Manager) Authenticate(ctx context.Context, c *Credentials) error {
	m.cfgMu.Lock()
	if c != nil {
		cp := *c
		c = &cp
	}
	m.credentials = c
	changed := m.updateProtocolInterceptionLocked()
	m.cfgMu.Unlock()
	if !changed {
		return nil
	}
	return m.applyToAll(ctx, m.applyProtocolInterception)
}

// updateProtocolInterceptionLocked 用户拦截或认证任一开启时需要 Fetch 域，返回是否变化
func (m *Manager) updateProtocolInterceptionLocked() bool {
	enabled := m.userInterception || m.credentials != nil
	if enabled == m.protocolInterception {
		return false
	}
	m.protocolInterception = enabled
	return true
}

func (m *Manager) applyProtocolInterception(ctx context.Context, s session.Session) error {
	m.cfgMu.Lock()
	enabled := m.protocolInterception
	m.cfgMu.Unlock()
	if enabled {
		return s.EnableFetch(ctx, true)
	}
	return s.DisableFetch(ctx)
}
