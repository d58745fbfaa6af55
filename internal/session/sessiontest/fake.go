// Package sessiontest 提供记录下发命令的 session.Session 测试替身
package sessiontest

import (
	"context"
	"errors"
	"sync"

	"cdpnetwatch/internal/session"
	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/traffic"
)

// 命令名与 CDP 方法名一致
const (
	NetworkEnable            = "Network.enable"
	SetExtraHTTPHeaders      = "Network.setExtraHTTPHeaders"
	SetUserAgentOverride     = "Network.setUserAgentOverride"
	SetCacheDisabled         = "Network.setCacheDisabled"
	EmulateNetworkConditions = "Network.emulateNetworkConditions"
	GetResponseBody          = "Network.getResponseBody"
	FetchEnable              = "Fetch.enable"
	FetchDisable             = "Fetch.disable"
	ContinueRequest          = "Fetch.continueRequest"
	FulfillRequest           = "Fetch.fulfillRequest"
	FailRequest              = "Fetch.failRequest"
	ContinueWithAuth         = "Fetch.continueWithAuth"
)

// Command 一条已下发的命令
type Command struct {
	Method string
	Args   any
}

// Fake 记录所有命令的会话
type Fake struct {
	id model.SessionID

	mu       sync.Mutex
	commands []Command
	errs     map[string]error
	bodies   map[model.RequestID][]byte
	hook     func(Command)
}

var _ session.Session = (*Fake)(nil)

// New 创建测试会话
func New(id string) *Fake {
	return &Fake{
		id:     model.SessionID(id),
		errs:   make(map[string]error),
		bodies: make(map[model.RequestID][]byte),
	}
}

// FailWith 让指定命令返回 err
func (f *Fake) FailWith(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = err
}

// SetBody 设置 Network.getResponseBody 的返回值
func (f *Fake) SetBody(id model.RequestID, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[id] = body
}

// OnCommand 每条命令记录后回调
func (f *Fake) OnCommand(fn func(Command)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = fn
}

// Commands 返回全部命令的拷贝
func (f *Fake) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.commands...)
}

// Named 返回指定方法的命令
func (f *Fake) Named(method string) []Command {
	var out []Command
	for _, c := range f.Commands() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Count 指定方法的下发次数
func (f *Fake) Count(method string) int { return len(f.Named(method)) }

// Reset 清空命令记录
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = nil
}

func (f *Fake) record(method string, args any) error {
	f.mu.Lock()
	c := Command{Method: method, Args: args}
	f.commands = append(f.commands, c)
	err := f.errs[method]
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	return err
}

func (f *Fake) ID() model.SessionID { return f.id }

func (f *Fake) EnableNetwork(ctx context.Context) error {
	return f.record(NetworkEnable, nil)
}

func (f *Fake) SetExtraHTTPHeaders(ctx context.Context, headers traffic.Header) error {
	return f.record(SetExtraHTTPHeaders, headers.Clone())
}

func (f *Fake) SetUserAgentOverride(ctx context.Context, ua session.UserAgentOverride) error {
	return f.record(SetUserAgentOverride, ua)
}

func (f *Fake) SetCacheDisabled(ctx context.Context, disabled bool) error {
	return f.record(SetCacheDisabled, disabled)
}

func (f *Fake) EmulateNetworkConditions(ctx context.Context, c session.NetworkConditions) error {
	return f.record(EmulateNetworkConditions, c)
}

func (f *Fake) EnableFetch(ctx context.Context, handleAuth bool) error {
	return f.record(FetchEnable, handleAuth)
}

func (f *Fake) DisableFetch(ctx context.Context) error {
	return f.record(FetchDisable, nil)
}

func (f *Fake) ContinueRequest(ctx context.Context, args session.ContinueRequestArgs) error {
	return f.record(ContinueRequest, args)
}

func (f *Fake) FulfillRequest(ctx context.Context, args session.FulfillRequestArgs) error {
	return f.record(FulfillRequest, args)
}

func (f *Fake) FailRequest(ctx context.Context, args session.FailRequestArgs) error {
	return f.record(FailRequest, args)
}

func (f *Fake) ContinueWithAuth(ctx context.Context, args session.ContinueWithAuthArgs) error {
	return f.record(ContinueWithAuth, args)
}

func (f *Fake) GetResponseBody(ctx context.Context, id model.RequestID) ([]byte, error) {
	if err := f.record(GetResponseBody, id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.bodies[id]
	if !ok {
		return nil, errors.New("No resource with given identifier found")
	}
	return body, nil
}
