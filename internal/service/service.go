package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cdpnetwatch/internal/cdp"
	"cdpnetwatch/internal/config"
	"cdpnetwatch/internal/handler"
	"cdpnetwatch/internal/logger"
	"cdpnetwatch/internal/network"
	"cdpnetwatch/internal/rules"
	"cdpnetwatch/internal/session"
	"cdpnetwatch/internal/storage"
	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/rulespec"
)

// ErrSessionNotFound 会话不存在或已停止
var ErrSessionNotFound = errors.New("session not found")

const defaultEventBuffer = 256

// workspace 一个业务会话：浏览器连接、网络管理器、规则处理器以及可选的记录器
type workspace struct {
	id       model.SessionID
	cfg      model.SessionConfig
	network  *network.Manager
	cdp      *cdp.Manager
	handler  *handler.Handler
	stopRec  context.CancelFunc
	recorded chan struct{}
}

// Service 管理多个业务会话
type Service struct {
	log      logger.Logger
	recorder *storage.Recorder

	mu       sync.Mutex
	sessions map[model.SessionID]*workspace
}

// New 创建服务，db 为 nil 时不记录请求
func New(l logger.Logger, db *gorm.DB) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	s := &Service{log: l, sessions: make(map[model.SessionID]*workspace)}
	if db != nil {
		s.recorder = storage.NewRecorder(db, l)
	}
	return s
}

func (s *Service) get(id model.SessionID) (*workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return w, nil
}

// StartSession 启动会话
func (s *Service) StartSession(ctx context.Context, cfg model.SessionConfig) (model.SessionID, error) {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	id := model.SessionID(uuid.NewString())
	l := s.log.With("session", string(id))

	nm := network.New(network.Options{Logger: l})
	w := &workspace{
		id:      id,
		cfg:     cfg,
		network: nm,
		cdp:     cdp.New(cfg.DevToolsURL, nm, l),
		handler: handler.New(handler.Config{Logger: l}),
	}
	w.handler.Attach(nm)

	if cfg.Interception {
		if err := nm.SetRequestInterception(ctx, true); err != nil {
			return "", err
		}
	}
	if s.recorder != nil {
		events, cancel := nm.Subscribe(cfg.EventBuffer)
		rctx, stop := context.WithCancel(context.WithoutCancel(ctx))
		w.recorded = make(chan struct{})
		w.stopRec = func() {
			stop()
			cancel()
		}
		go func() {
			defer close(w.recorded)
			s.recorder.Run(rctx, events)
		}()
	}

	s.mu.Lock()
	s.sessions[id] = w
	s.mu.Unlock()
	l.Info("会话已启动", "devtools", cfg.DevToolsURL)
	return id, nil
}

// StopSession 停止会话并断开所有目标
func (s *Service) StopSession(id model.SessionID) error {
	s.mu.Lock()
	w, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	err := w.cdp.Detach()
	if w.stopRec != nil {
		w.stopRec()
		<-w.recorded
	}
	s.log.Info("会话已停止", "session", string(id))
	return err
}

// ListTargets 列出目标
func (s *Service) ListTargets(ctx context.Context, id model.SessionID) ([]model.TargetInfo, error) {
	w, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return w.cdp.ListTargets(ctx)
}

// AttachTarget 附加目标，target 为空时附加第一个用户页面
func (s *Service) AttachTarget(ctx context.Context, id model.SessionID, target model.TargetID) (model.TargetID, error) {
	w, err := s.get(id)
	if err != nil {
		return "", err
	}
	return w.cdp.AttachTarget(ctx, target)
}

// DetachTarget 分离目标
func (s *Service) DetachTarget(id model.SessionID, target model.TargetID) error {
	w, err := s.get(id)
	if err != nil {
		return err
	}
	return w.cdp.DetachTarget(target)
}

// EnableInterception 启用拦截
func (s *Service) EnableInterception(ctx context.Context, id model.SessionID) error {
	return s.setInterception(ctx, id, true)
}

// DisableInterception 禁用拦截
func (s *Service) DisableInterception(ctx context.Context, id model.SessionID) error {
	return s.setInterception(ctx, id, false)
}

func (s *Service) setInterception(ctx context.Context, id model.SessionID, enabled bool) error {
	w, err := s.get(id)
	if err != nil {
		return err
	}
	return w.network.SetRequestInterception(ctx, enabled)
}

// SetExtraHTTPHeaders 设置附加请求头
func (s *Service) SetExtraHTTPHeaders(ctx context.Context, id model.SessionID, headers map[string]string) error {
	w, err := s.get(id)
	if err != nil {
		return err
	}
	return w.network.SetExtraHTTPHeaders(ctx, headers)
}

// Authenticate 设置认证凭据，用户名和密码都为空时清除
func (s *Service) Authenticate(ctx context.Context, id model.SessionID, username, password string) error {
	w, err := s.get(id)
	if err != nil {
		return err
	}
	var c *network.Credentials
	if username != "" || password != "" {
		c = &network.Credentials{Username: username, Password: password}
	}
	return w.network.Authenticate(ctx, c)
}

// ConfigureNetwork 下发配置文件中的网络设置，未设置的项保持浏览器默认
func (s *Service) ConfigureNetwork(ctx context.Context, id model.SessionID, nc config.NetworkConfig) error {
	w, err := s.get(id)
	if err != nil {
		return err
	}
	nm := w.network
	if len(nc.ExtraHeaders) > 0 {
		if err := nm.SetExtraHTTPHeaders(ctx, nc.ExtraHeaders); err != nil {
			return err
		}
	}
	if nc.UserAgent != "" {
		if err := nm.SetUserAgent(ctx, nc.UserAgent, nc.AcceptLanguage, nc.Platform); err != nil {
			return err
		}
	}
	if nc.CacheDisabled {
		if err := nm.SetCacheEnabled(ctx, false); err != nil {
			return err
		}
	}
	if nc.Conditions != nil {
		c := &session.NetworkConditions{Latency: nc.Conditions.Latency, Download: nc.Conditions.Download, Upload: nc.Conditions.Upload}
		if err := nm.EmulateNetworkConditions(ctx, c); err != nil {
			return err
		}
	}
	if nc.Offline {
		if err := nm.SetOfflineMode(ctx, true); err != nil {
			return err
		}
	}
	if nc.Credentials != nil {
		if err := s.Authenticate(ctx, id, nc.Credentials.Username, nc.Credentials.Password); err != nil {
			return err
		}
	}
	return nm.SetRequestInterception(ctx, nc.Interception || w.cfg.Interception)
}

// LoadRules 加载规则，替换当前规则集
func (s *Service) LoadRules(id model.SessionID, rs rulespec.RuleSet) error {
	w, err := s.get(id)
	if err != nil {
		return err
	}
	if e := w.handler.Engine(); e != nil {
		return e.Update(rs)
	}
	e, err := rules.New(rs)
	if err != nil {
		return err
	}
	w.handler.SetEngine(e)
	s.log.Info("规则已加载", "session", string(id), "count", len(rs.Rules))
	return nil
}

// GetRuleStats 获取规则统计信息
func (s *Service) GetRuleStats(id model.SessionID) (model.EngineStats, error) {
	w, err := s.get(id)
	if err != nil {
		return model.EngineStats{}, err
	}
	e := w.handler.Engine()
	if e == nil {
		return model.EngineStats{ByRule: map[model.RuleID]int64{}}, nil
	}
	return e.Stats(), nil
}

// SubscribeEvents 订阅网络事件，调用返回的函数取消订阅
func (s *Service) SubscribeEvents(id model.SessionID) (<-chan model.NetworkEvent, func(), error) {
	w, err := s.get(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := w.network.Subscribe(w.cfg.EventBuffer)
	return ch, cancel, nil
}

// ListRecords 读取最近的请求记录
func (s *Service) ListRecords(ctx context.Context, limit int) ([]storage.ExchangeRecord, error) {
	if s.recorder == nil {
		return nil, nil
	}
	return s.recorder.List(ctx, limit)
}
