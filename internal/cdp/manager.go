package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"
	cdpsession "github.com/mafredri/cdp/session"

	"cdpnetwatch/internal/logger"
	nw "cdpnetwatch/internal/network"
	"cdpnetwatch/pkg/model"
)

var (
	ErrNoTarget    = errors.New("no matching target")
	ErrNotAttached = errors.New("target not attached")
)

// page 已附加的页面及其子 frame 会话
type page struct {
	main     *targetSession
	sessions *cdpsession.Manager
	frames   map[model.TargetID]*targetSession
}

// Manager 负责连接浏览器、附加目标，并把事件交给网络管理器
type Manager struct {
	devtoolsURL string
	network     *nw.Manager
	log         logger.Logger

	mu    sync.Mutex
	pages map[model.TargetID]*page
}

// New 创建并返回一个新的 CDP 管理器
func New(devtoolsURL string, network *nw.Manager, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		devtoolsURL: devtoolsURL,
		network:     network,
		log:         l,
		pages:       make(map[model.TargetID]*page),
	}
}

// ListTargets 列出浏览器中的页面目标
func (m *Manager) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TargetInfo, 0, len(targets))
	for _, t := range targets {
		if string(t.Type) != "page" {
			continue
		}
		id := model.TargetID(t.ID)
		_, attached := m.pages[id]
		out = append(out, model.TargetInfo{
			ID:        id,
			Type:      string(t.Type),
			URL:       t.URL,
			Title:     t.Title,
			IsCurrent: attached,
			IsUser:    isUserPage(t.URL),
		})
	}
	return out, nil
}

// isUserPage 排除浏览器内部页面
func isUserPage(url string) bool {
	for _, prefix := range []string{"devtools://", "chrome://", "chrome-extension://", "edge://"} {
		if len(url) >= len(prefix) && url[:len(prefix)] == prefix {
			return false
		}
	}
	return true
}

// selectTarget 按 ID 选择页面，ID 为空时取第一个用户页面
func selectTarget(targets []*devtool.Target, id model.TargetID) *devtool.Target {
	for _, t := range targets {
		if string(t.Type) != "page" {
			continue
		}
		if id == "" && isUserPage(t.URL) {
			return t
		}
		if id != "" && model.TargetID(t.ID) == id {
			return t
		}
	}
	return nil
}

// AttachTarget 附加到页面并开始消费网络事件，返回实际附加的目标 ID
func (m *Manager) AttachTarget(ctx context.Context, id model.TargetID) (model.TargetID, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return "", fmt.Errorf("list targets: %w", err)
	}
	sel := selectTarget(targets, id)
	if sel == nil {
		return "", fmt.Errorf("%w: %q", ErrNoTarget, id)
	}
	tid := model.TargetID(sel.ID)

	m.mu.Lock()
	_, exists := m.pages[tid]
	m.mu.Unlock()
	if exists {
		return tid, nil
	}

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", tid, err)
	}
	ts := newTargetSession(context.Background(), tid, "", conn)
	if err := m.start(ctx, ts); err != nil {
		_ = ts.close()
		return "", err
	}

	p := &page{main: ts, frames: make(map[model.TargetID]*targetSession)}
	m.mu.Lock()
	m.pages[tid] = p
	m.mu.Unlock()

	if err := m.discoverFrames(ctx, p); err != nil {
		m.log.Err(err, "子 frame 发现失败，仅监听主页面", "target", string(tid))
	}
	m.log.Info("已附加目标", "target", string(tid), "url", sel.URL)
	return tid, nil
}

// start 订阅事件流、注册到网络管理器并启动消费
func (m *Manager) start(ctx context.Context, ts *targetSession) error {
	streams, err := openStreams(ts)
	if err != nil {
		return fmt.Errorf("subscribe events %s: %w", ts.id, err)
	}
	go m.consume(ts, streams)
	if err := m.network.AddSession(ctx, ts); err != nil {
		return err
	}
	return nil
}

// discoverFrames 在页面会话上开启自动附加，只会收到本页面的子目标（跨进程 iframe、worker）。
// 子目标启动时暂停，iframe 附加并重放配置后才恢复运行。
func (m *Manager) discoverFrames(ctx context.Context, p *page) error {
	client := p.main.client
	sm, err := cdpsession.NewManager(client)
	if err != nil {
		return err
	}
	attached, err := client.Target.AttachedToTarget(p.main.ctx)
	if err != nil {
		_ = sm.Close()
		return err
	}
	detached, err := client.Target.DetachedFromTarget(p.main.ctx)
	if err != nil {
		_ = attached.Close()
		_ = sm.Close()
		return err
	}
	if err := client.Target.SetAutoAttach(ctx, autoAttachArgs()); err != nil {
		_ = attached.Close()
		_ = detached.Close()
		_ = sm.Close()
		return err
	}
	m.mu.Lock()
	p.sessions = sm
	m.mu.Unlock()

	go func() {
		defer attached.Close()
		defer detached.Close()

		ctx := p.main.ctx
		children := newChildTargets()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sm.Err():
				m.log.Err(err, "子会话管理器出错", "target", string(p.main.targetID))
			case <-attached.Ready():
				ev, err := attached.Recv()
				if err != nil {
					return
				}
				if id, isFrame := children.attached(ev); isFrame {
					m.attachFrame(p, sm, id)
				}
				if ev.WaitingForDebugger {
					m.resumeChild(ctx, p, ev.SessionID)
				}
			case <-detached.Ready():
				ev, err := detached.Recv()
				if err != nil {
					return
				}
				if id, ok := children.detached(ev.SessionID); ok {
					m.detachFrame(p, id)
				}
			}
		}
	}()
	return nil
}

// autoAttachArgs 非 flatten 模式，子目标的消息经 Target 域转发
func autoAttachArgs() *target.SetAutoAttachArgs {
	return target.NewSetAutoAttachArgs(true, true).SetFlatten(false)
}

// resumeMessage 让等待调试器的子目标继续运行
const resumeMessage = `{"id":1,"method":"Runtime.runIfWaitingForDebugger"}`

// resumeChild 通过自动附加的会话恢复子目标
func (m *Manager) resumeChild(ctx context.Context, p *page, sid target.SessionID) {
	args := target.NewSendMessageToTargetArgs(resumeMessage).SetSessionID(sid)
	if err := p.main.client.Target.SendMessageToTarget(ctx, args); err != nil {
		m.log.Err(err, "恢复子目标失败", "session", string(sid), "target", string(p.main.targetID))
	}
}

// childTargets 自动附加会话到子目标的映射，只在发现协程内使用
type childTargets struct {
	bySession map[target.SessionID]model.TargetID
}

func newChildTargets() *childTargets {
	return &childTargets{bySession: make(map[target.SessionID]model.TargetID)}
}

// attached 记录子目标，返回其 ID 以及是否为需要单独监听的 iframe
func (c *childTargets) attached(ev *target.AttachedToTargetReply) (model.TargetID, bool) {
	id := model.TargetID(ev.TargetInfo.TargetID)
	c.bySession[ev.SessionID] = id
	return id, ev.TargetInfo.Type == "iframe"
}

// detached 自动附加会话断开时返回对应的子目标
func (c *childTargets) detached(sid target.SessionID) (model.TargetID, bool) {
	id, ok := c.bySession[sid]
	delete(c.bySession, sid)
	return id, ok
}

func (m *Manager) attachFrame(p *page, sm *cdpsession.Manager, id model.TargetID) {
	m.mu.Lock()
	_, exists := p.frames[id]
	m.mu.Unlock()
	if exists {
		return
	}

	ctx := p.main.ctx
	conn, err := sm.Dial(ctx, target.ID(id))
	if err != nil {
		m.log.Err(err, "附加子 frame 失败", "frame", string(id))
		return
	}
	ts := newTargetSession(ctx, id, p.main.targetID, conn)
	if err := m.start(ctx, ts); err != nil {
		m.log.Err(err, "启动子 frame 会话失败", "frame", string(id))
		_ = ts.close()
		return
	}
	m.mu.Lock()
	p.frames[id] = ts
	m.mu.Unlock()
	m.log.Debug("已附加子 frame", "frame", string(id), "target", string(p.main.targetID))
}

func (m *Manager) detachFrame(p *page, id model.TargetID) {
	m.mu.Lock()
	ts, ok := p.frames[id]
	delete(p.frames, id)
	m.mu.Unlock()
	if ok {
		_ = ts.close()
	}
}

// handleSessionClosed 事件流结束后把会话从网络管理器移除
func (m *Manager) handleSessionClosed(ts *targetSession) {
	m.network.RemoveSession(ts)

	m.mu.Lock()
	if ts.parent != "" {
		if p, ok := m.pages[ts.parent]; ok {
			delete(p.frames, ts.targetID)
		}
		m.mu.Unlock()
		return
	}
	p, ok := m.pages[ts.targetID]
	if ok && p.main == ts {
		delete(m.pages, ts.targetID)
	}
	m.mu.Unlock()

	if ok && p.main == ts {
		_ = m.closePage(p)
		m.log.Info("目标连接已断开", "target", string(ts.targetID))
	}
}

// DetachTarget 断开页面及其全部子 frame 会话
func (m *Manager) DetachTarget(id model.TargetID) error {
	m.mu.Lock()
	p, ok := m.pages[id]
	delete(m.pages, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAttached, id)
	}
	return m.closePage(p)
}

func (m *Manager) closePage(p *page) error {
	m.mu.Lock()
	frames := make([]*targetSession, 0, len(p.frames))
	for id, ts := range p.frames {
		frames = append(frames, ts)
		delete(p.frames, id)
	}
	sm := p.sessions
	p.sessions = nil
	m.mu.Unlock()

	for _, ts := range frames {
		m.network.RemoveSession(ts)
		_ = ts.close()
	}
	if sm != nil {
		_ = sm.Close()
	}
	m.network.RemoveSession(p.main)
	return p.main.close()
}

// Detach 断开所有目标
func (m *Manager) Detach() error {
	m.mu.Lock()
	ids := make([]model.TargetID, 0, len(m.pages))
	for id := range m.pages {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.DetachTarget(id); err != nil && !errors.Is(err, ErrNotAttached) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Attached 返回已附加的页面目标
func (m *Manager) Attached() []model.TargetID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]model.TargetID, 0, len(m.pages))
	for id := range m.pages {
		ids = append(ids, id)
	}
	return ids
}
