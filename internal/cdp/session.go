package cdp

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/emulation"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/rpcc"

	adapter "cdpnetwatch/internal/adapter/cdp"
	"cdpnetwatch/internal/session"
	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/traffic"
)

// targetSession 一个 CDP 目标上的连接，主页面和子 frame 各一个
type targetSession struct {
	id       model.SessionID
	targetID model.TargetID
	parent   model.TargetID // 子 frame 会话所属的页面，主会话为空
	conn     *rpcc.Conn
	client   *cdp.Client
	ctx      context.Context
	cancel   context.CancelFunc
}

var _ session.Session = (*targetSession)(nil)

func newTargetSession(parent context.Context, id model.TargetID, owner model.TargetID, conn *rpcc.Conn) *targetSession {
	ctx, cancel := context.WithCancel(parent)
	return &targetSession{
		id:       model.SessionID(id),
		targetID: id,
		parent:   owner,
		conn:     conn,
		client:   cdp.NewClient(conn),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// close 取消事件消费并关闭连接
func (ts *targetSession) close() error {
	ts.cancel()
	return ts.conn.Close()
}

func (ts *targetSession) ID() model.SessionID { return ts.id }

func (ts *targetSession) EnableNetwork(ctx context.Context) error {
	return ts.client.Network.Enable(ctx, nil)
}

func (ts *targetSession) SetExtraHTTPHeaders(ctx context.Context, headers traffic.Header) error {
	raw, err := adapter.HeadersToJSON(headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	return ts.client.Network.SetExtraHTTPHeaders(ctx, network.NewSetExtraHTTPHeadersArgs(network.Headers(raw)))
}

func (ts *targetSession) SetUserAgentOverride(ctx context.Context, ua session.UserAgentOverride) error {
	args := emulation.NewSetUserAgentOverrideArgs(ua.UserAgent)
	if ua.AcceptLanguage != "" {
		args.SetAcceptLanguage(ua.AcceptLanguage)
	}
	if ua.Platform != "" {
		args.SetPlatform(ua.Platform)
	}
	return ts.client.Emulation.SetUserAgentOverride(ctx, args)
}

func (ts *targetSession) SetCacheDisabled(ctx context.Context, disabled bool) error {
	return ts.client.Network.SetCacheDisabled(ctx, network.NewSetCacheDisabledArgs(disabled))
}

func (ts *targetSession) EmulateNetworkConditions(ctx context.Context, c session.NetworkConditions) error {
	return ts.client.Network.EmulateNetworkConditions(ctx,
		network.NewEmulateNetworkConditionsArgs(c.Offline, c.Latency, c.Download, c.Upload))
}

// EnableFetch 只在请求阶段暂停，响应阶段不拦截
func (ts *targetSession) EnableFetch(ctx context.Context, handleAuth bool) error {
	p := "*"
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
	}
	return ts.client.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: patterns, HandleAuthRequests: &handleAuth})
}

func (ts *targetSession) DisableFetch(ctx context.Context) error {
	return ts.client.Fetch.Disable(ctx)
}

func (ts *targetSession) ContinueRequest(ctx context.Context, a session.ContinueRequestArgs) error {
	args := &fetch.ContinueRequestArgs{RequestID: fetch.RequestID(a.InterceptionID)}
	if a.URL != "" {
		args.URL = &a.URL
	}
	if a.Method != "" {
		args.Method = &a.Method
	}
	if len(a.PostData) > 0 {
		args.PostData = a.PostData
	}
	if a.Headers != nil {
		args.Headers = adapter.ToHeaderEntries(a.Headers)
	}
	return ts.client.Fetch.ContinueRequest(ctx, args)
}

func (ts *targetSession) FulfillRequest(ctx context.Context, a session.FulfillRequestArgs) error {
	args := &fetch.FulfillRequestArgs{
		RequestID:       fetch.RequestID(a.InterceptionID),
		ResponseCode:    a.Status,
		ResponseHeaders: adapter.ToHeaderEntries(a.Headers),
	}
	if len(a.Body) > 0 {
		args.Body = a.Body
	}
	if a.Phrase != "" {
		args.ResponsePhrase = &a.Phrase
	}
	return ts.client.Fetch.FulfillRequest(ctx, args)
}

func (ts *targetSession) FailRequest(ctx context.Context, a session.FailRequestArgs) error {
	return ts.client.Fetch.FailRequest(ctx, &fetch.FailRequestArgs{
		RequestID:   fetch.RequestID(a.InterceptionID),
		ErrorReason: network.ErrorReason(a.Reason),
	})
}

func (ts *targetSession) ContinueWithAuth(ctx context.Context, a session.ContinueWithAuthArgs) error {
	resp := fetch.AuthChallengeResponse{Response: string(a.Response)}
	if a.Response == session.AuthProvideCredentials {
		resp.Username = &a.Username
		resp.Password = &a.Password
	}
	return ts.client.Fetch.ContinueWithAuth(ctx, &fetch.ContinueWithAuthArgs{
		RequestID:             fetch.RequestID(a.InterceptionID),
		AuthChallengeResponse: resp,
	})
}

// GetResponseBody 读取响应体，base64 编码的内容会被解码
func (ts *targetSession) GetResponseBody(ctx context.Context, id model.RequestID) ([]byte, error) {
	reply, err := ts.client.Network.GetResponseBody(ctx, network.NewGetResponseBodyArgs(network.RequestID(id)))
	if err != nil {
		return nil, err
	}
	if reply.Base64Encoded {
		return base64.StdEncoding.DecodeString(reply.Body)
	}
	return []byte(reply.Body), nil
}
