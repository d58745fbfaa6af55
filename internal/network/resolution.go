package network

import (
	"context"

	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/traffic"
)

// DefaultInterceptResolutionPriority 协作式拦截的默认优先级
const DefaultInterceptResolutionPriority = 0

// Action 拦截决定
type Action string

const (
	ActionNone           Action = "none"
	ActionContinue       Action = "continue"
	ActionRespond        Action = "respond"
	ActionAbort          Action = "abort"
	ActionDisabled       Action = "disabled"
	ActionAlreadyHandled Action = "already-handled"
)

// InterceptResolution 当前胜出的决定及其优先级，Priority 为 nil 表示尚无协作式调用
type InterceptResolution struct {
	Action   Action
	Priority *int
}

// ContinueOverrides Continue 的覆盖项，零值字段保持原样
type ContinueOverrides struct {
	URL      string
	Method   string
	PostData []byte
	Headers  traffic.Header
}

// MockResponse Respond 使用的模拟响应
type MockResponse struct {
	Status      int
	Headers     traffic.Header
	ContentType string
	Body        []byte
}

// InterceptAction 延迟执行的拦截处理函数，在最终决定前按注册顺序执行
type InterceptAction func(ctx context.Context) error

// ResolveOption Continue/Respond/Abort 的可选参数
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	priority *int
}

// WithPriority 以协作模式提交决定
func WithPriority(p int) ResolveOption {
	return func(o *resolveOptions) { o.priority = &p }
}

func collectOptions(opts []ResolveOption) resolveOptions {
	var o resolveOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// ErrorReasonFor 错误码转换为 ErrorReason，空码视为 failed
func ErrorReasonFor(code string) (model.ErrorReason, bool) {
	return model.ParseErrorReason(code)
}

// resolution 协作式拦截状态机，只能通过 offer* 方法迁移
type resolution struct {
	action   Action
	priority *int
}

func newResolution() resolution {
	return resolution{action: ActionNone}
}

func (s *resolution) snapshot() InterceptResolution {
	out := InterceptResolution{Action: s.action}
	if s.priority != nil {
		p := *s.priority
		out.Priority = &p
	}
	return out
}

func (s *resolution) set(a Action, p int) {
	s.action = a
	s.priority = &p
}

// offerContinue 优先级更高才覆盖；同优先级时 abort/respond 保持不变。
// 返回 true 表示本次提交生效，调用方据此保存覆盖项。
func (s *resolution) offerContinue(p int) bool {
	if s.priority == nil || p > *s.priority {
		s.set(ActionContinue, p)
		return true
	}
	if p == *s.priority {
		if s.action == ActionAbort || s.action == ActionRespond {
			return false
		}
		s.action = ActionContinue
		return true
	}
	return false
}

// offerRespond 同优先级时只让位于 abort
func (s *resolution) offerRespond(p int) bool {
	if s.priority == nil || p > *s.priority {
		s.set(ActionRespond, p)
		return true
	}
	if p == *s.priority && s.action != ActionAbort {
		s.action = ActionRespond
		return true
	}
	return false
}

// offerAbort 同优先级时总是胜出
func (s *resolution) offerAbort(p int) bool {
	if s.priority == nil || p >= *s.priority {
		s.set(ActionAbort, p)
		return true
	}
	return false
}
