package model

import "strings"

// SessionID CDP 会话标识（主页面或子 frame 的独立会话）
type SessionID string

// TargetID CDP 目标标识
type TargetID string

// RuleID 拦截规则标识
type RuleID string

// RequestID 网络事件中的请求标识，Network 与 Fetch 两个通道共用
type RequestID string

// InterceptionID Fetch 域的拦截句柄，只用于回复浏览器
type InterceptionID string

// FrameID 发起请求的 frame 标识
type FrameID string

// LoaderID 文档加载器标识
type LoaderID string

// ResourceType 资源类型，取值与 CDP Network.ResourceType 一致
type ResourceType string

const (
	ResourceDocument   ResourceType = "Document"
	ResourceStylesheet ResourceType = "Stylesheet"
	ResourceImage      ResourceType = "Image"
	ResourceMedia      ResourceType = "Media"
	ResourceFont       ResourceType = "Font"
	ResourceScript     ResourceType = "Script"
	ResourceXHR        ResourceType = "XHR"
	ResourceFetch      ResourceType = "Fetch"
	ResourceWebSocket  ResourceType = "WebSocket"
	ResourceOther      ResourceType = "Other"
)

// ErrorReason Fetch.failRequest 使用的失败原因
type ErrorReason string

const (
	ErrorReasonFailed               ErrorReason = "Failed"
	ErrorReasonAborted              ErrorReason = "Aborted"
	ErrorReasonTimedOut             ErrorReason = "TimedOut"
	ErrorReasonAccessDenied         ErrorReason = "AccessDenied"
	ErrorReasonConnectionClosed     ErrorReason = "ConnectionClosed"
	ErrorReasonConnectionReset      ErrorReason = "ConnectionReset"
	ErrorReasonConnectionRefused    ErrorReason = "ConnectionRefused"
	ErrorReasonConnectionAborted    ErrorReason = "ConnectionAborted"
	ErrorReasonConnectionFailed     ErrorReason = "ConnectionFailed"
	ErrorReasonNameNotResolved      ErrorReason = "NameNotResolved"
	ErrorReasonInternetDisconnected ErrorReason = "InternetDisconnected"
	ErrorReasonAddressUnreachable   ErrorReason = "AddressUnreachable"
	ErrorReasonBlockedByClient      ErrorReason = "BlockedByClient"
	ErrorReasonBlockedByResponse    ErrorReason = "BlockedByResponse"
)

// errorReasons 规则与 Abort 使用的错误码，键为小写
var errorReasons = map[string]ErrorReason{
	"aborted":              ErrorReasonAborted,
	"accessdenied":         ErrorReasonAccessDenied,
	"addressunreachable":   ErrorReasonAddressUnreachable,
	"blockedbyclient":      ErrorReasonBlockedByClient,
	"blockedbyresponse":    ErrorReasonBlockedByResponse,
	"connectionaborted":    ErrorReasonConnectionAborted,
	"connectionclosed":     ErrorReasonConnectionClosed,
	"connectionfailed":     ErrorReasonConnectionFailed,
	"connectionrefused":    ErrorReasonConnectionRefused,
	"connectionreset":      ErrorReasonConnectionReset,
	"internetdisconnected": ErrorReasonInternetDisconnected,
	"namenotresolved":      ErrorReasonNameNotResolved,
	"timedout":             ErrorReasonTimedOut,
	"failed":               ErrorReasonFailed,
}

// ParseErrorReason 错误码不区分大小写，空码视为 Failed
func ParseErrorReason(code string) (ErrorReason, bool) {
	if code == "" {
		return ErrorReasonFailed, true
	}
	r, ok := errorReasons[strings.ToLower(code)]
	return r, ok
}

// EventType 对外发出的应用层事件类型
type EventType string

const (
	EventRequest                EventType = "request"
	EventResponse               EventType = "response"
	EventRequestFinished        EventType = "requestfinished"
	EventRequestFailed          EventType = "requestfailed"
	EventRequestServedFromCache EventType = "requestservedfromcache"
)

// SessionConfig 业务会话配置
type SessionConfig struct {
	DevToolsURL  string   `json:"devToolsURL"`
	Target       TargetID `json:"target"`
	Interception bool     `json:"interception"`
	EventBuffer  int      `json:"eventBuffer"`
}

type EngineStats struct {
	Total   int64            `json:"total"`
	Matched int64            `json:"matched"`
	ByRule  map[RuleID]int64 `json:"byRule"`
}

// NetworkEvent 扁平化的网络事件，供通道订阅者（记录器、命令行）使用
type NetworkEvent struct {
	Type           EventType         `json:"type"`
	Session        SessionID         `json:"session"`
	RequestID      RequestID         `json:"requestId"`
	InterceptionID InterceptionID    `json:"interceptionId,omitempty"`
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	ResourceType   ResourceType      `json:"resourceType"`
	Headers        map[string]string `json:"headers,omitempty"`
	StatusCode     int               `json:"statusCode,omitempty"`
	StatusText     string            `json:"statusText,omitempty"`
	FromCache      bool              `json:"fromCache,omitempty"`
	ErrorText      string            `json:"errorText,omitempty"`
	RedirectCount  int               `json:"redirectCount,omitempty"`
	Timestamp      int64             `json:"timestamp"`
}

type TargetInfo struct {
	ID        TargetID `json:"id"`
	Type      string   `json:"type"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	IsCurrent bool     `json:"isCurrent"`
	IsUser    bool     `json:"isUser"`
}
