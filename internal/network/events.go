package network

import (
	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/traffic"
)

// Event 入站协议事件，由传输层解码为以下具体类型之一
type Event interface {
	eventName() string
}

// RequestWillBeSent Network.requestWillBeSent
type RequestWillBeSent struct {
	RequestID            model.RequestID
	LoaderID             model.LoaderID
	FrameID              model.FrameID
	Type                 model.ResourceType
	DocumentURL          string
	Request              traffic.RequestData
	RedirectResponse     *traffic.ResponseData
	RedirectHasExtraInfo bool
}

// RequestWillBeSentExtraInfo Network.requestWillBeSentExtraInfo
type RequestWillBeSentExtraInfo struct {
	RequestID model.RequestID
	Headers   traffic.Header
}

// RequestServedFromCache Network.requestServedFromCache
type RequestServedFromCache struct {
	RequestID model.RequestID
}

// ResponseReceived Network.responseReceived
type ResponseReceived struct {
	RequestID    model.RequestID
	LoaderID     model.LoaderID
	FrameID      model.FrameID
	Type         model.ResourceType
	Response     traffic.ResponseData
	HasExtraInfo bool
}

// ResponseReceivedExtraInfo Network.responseReceivedExtraInfo
type ResponseReceivedExtraInfo struct {
	RequestID   model.RequestID
	Headers     traffic.Header
	StatusCode  int
	HeadersText string
}

// LoadingFinished Network.loadingFinished
type LoadingFinished struct {
	RequestID         model.RequestID
	EncodedDataLength float64
}

// LoadingFailed Network.loadingFailed
type LoadingFailed struct {
	RequestID     model.RequestID
	Type          model.ResourceType
	ErrorText     string
	Canceled      bool
	BlockedReason string
}

// RequestPaused Fetch.requestPaused，只处理请求阶段
type RequestPaused struct {
	InterceptionID      model.InterceptionID
	NetworkID           model.RequestID // 对应 Network 通道的 RequestID，可能为空
	RedirectedRequestID model.InterceptionID
	FrameID             model.FrameID
	ResourceType        model.ResourceType
	Request             traffic.RequestData
}

// AuthChallenge 认证挑战
type AuthChallenge struct {
	Source string
	Origin string
	Scheme string
	Realm  string
}

// AuthRequired Fetch.authRequired
type AuthRequired struct {
	InterceptionID model.InterceptionID
	FrameID        model.FrameID
	ResourceType   model.ResourceType
	Request        traffic.RequestData
	Challenge      AuthChallenge
}

func (*RequestWillBeSent) eventName() string          { return "Network.requestWillBeSent" }
func (*RequestWillBeSentExtraInfo) eventName() string { return "Network.requestWillBeSentExtraInfo" }
func (*RequestServedFromCache) eventName() string     { return "Network.requestServedFromCache" }
func (*ResponseReceived) eventName() string           { return "Network.responseReceived" }
func (*ResponseReceivedExtraInfo) eventName() string  { return "Network.responseReceivedExtraInfo" }
func (*LoadingFinished) eventName() string            { return "Network.loadingFinished" }
func (*LoadingFailed) eventName() string              { return "Network.loadingFailed" }
func (*RequestPaused) eventName() string              { return "Fetch.requestPaused" }
func (*AuthRequired) eventName() string               { return "Fetch.authRequired" }

// EventName 返回事件对应的协议方法名
func EventName(ev Event) string { return ev.eventName() }
