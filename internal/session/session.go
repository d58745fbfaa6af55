package session

import (
	"context"

	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/traffic"
)

// Session 单个 CDP 会话上可下发的网络相关命令
type Session interface {
	ID() model.SessionID

	EnableNetwork(ctx context.Context) error
	SetExtraHTTPHeaders(ctx context.Context, headers traffic.Header) error
	SetUserAgentOverride(ctx context.Context, ua UserAgentOverride) error
	SetCacheDisabled(ctx context.Context, disabled bool) error
	EmulateNetworkConditions(ctx context.Context, c NetworkConditions) error

	EnableFetch(ctx context.Context, handleAuth bool) error
	DisableFetch(ctx context.Context) error
	ContinueRequest(ctx context.Context, args ContinueRequestArgs) error
	FulfillRequest(ctx context.Context, args FulfillRequestArgs) error
	FailRequest(ctx context.Context, args FailRequestArgs) error
	ContinueWithAuth(ctx context.Context, args ContinueWithAuthArgs) error

	GetResponseBody(ctx context.Context, id model.RequestID) ([]byte, error)
}

// UserAgentOverride Network.setUserAgentOverride 参数
type UserAgentOverride struct {
	UserAgent      string
	AcceptLanguage string
	Platform       string
}

// NetworkConditions 网络节流参数，吞吐量单位为字节/秒，-1 表示不限制
type NetworkConditions struct {
	Offline  bool
	Latency  float64
	Download float64
	Upload   float64
}

// ContinueRequestArgs Fetch.continueRequest 参数，零值字段不覆盖
type ContinueRequestArgs struct {
	InterceptionID model.InterceptionID
	URL            string
	Method         string
	PostData       []byte
	Headers        traffic.Header
}

// FulfillRequestArgs Fetch.fulfillRequest 参数
type FulfillRequestArgs struct {
	InterceptionID model.InterceptionID
	Status         int
	Phrase         string
	Headers        traffic.Header
	Body           []byte
}

// FailRequestArgs Fetch.failRequest 参数
type FailRequestArgs struct {
	InterceptionID model.InterceptionID
	Reason         model.ErrorReason
}

// AuthResponse 认证挑战的应答方式
type AuthResponse string

const (
	AuthDefault            AuthResponse = "Default"
	AuthCancel             AuthResponse = "CancelAuth"
	AuthProvideCredentials AuthResponse = "ProvideCredentials"
)

// ContinueWithAuthArgs Fetch.continueWithAuth 参数
type ContinueWithAuthArgs struct {
	InterceptionID model.InterceptionID
	Response       AuthResponse
	Username       string
	Password       string
}
