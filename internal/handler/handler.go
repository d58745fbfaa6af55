package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"cdpnetwatch/internal/logger"
	"cdpnetwatch/internal/network"
	"cdpnetwatch/internal/rules"
	"cdpnetwatch/pkg/rulespec"
	"cdpnetwatch/pkg/traffic"
)

// Handler 把规则匹配结果转成协作式拦截决定
type Handler struct {
	mu     sync.RWMutex
	engine *rules.Engine
	log    logger.Logger
}

// Config 配置选项
type Config struct {
	Engine *rules.Engine
	Logger logger.Logger
}

// New 创建事件处理器
func New(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Handler{engine: cfg.Engine, log: l}
}

// SetEngine 设置规则引擎，nil 表示不应用任何规则
func (h *Handler) SetEngine(engine *rules.Engine) {
	h.mu.Lock()
	h.engine = engine
	h.mu.Unlock()
}

// Engine 当前规则引擎
func (h *Handler) Engine() *rules.Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine
}

// Attach 订阅网络管理器的请求事件
func (h *Handler) Attach(m *network.Manager) {
	m.OnRequest(h.OnRequest)
}

// OnRequest 为可拦截的请求注册一个延迟处理函数：命中的规则按各自优先级提交决定，
// 另以默认优先级提交一次放行，最终由优先级决定结果
func (h *Handler) OnRequest(req *network.Request) {
	if !req.InterceptionAllowed() {
		return
	}

	var matched []*rules.MatchedRule
	if engine := h.Engine(); engine != nil {
		matched = engine.Eval(buildEvalContext(req))
	}
	if len(matched) > 0 {
		h.log.Debug("请求命中规则", "url", req.URL(), "rules", len(matched), "top", string(matched[0].Rule.ID))
	}

	req.EnqueueInterceptAction(func(ctx context.Context) error {
		return h.resolve(ctx, req, matched)
	})
}

// resolve 依次提交命中规则的决定，最后总是以默认优先级提交一次放行
func (h *Handler) resolve(ctx context.Context, req *network.Request, matched []*rules.MatchedRule) error {
	for _, m := range matched {
		// 单条规则出错不影响默认放行，否则请求会一直停在浏览器里
		if err := ignoreHandled(h.apply(ctx, req, m.Rule)); err != nil {
			h.log.Err(err, "应用规则失败", "rule", string(m.Rule.ID), "url", req.URL())
		}
	}
	return ignoreHandled(req.Continue(ctx, network.ContinueOverrides{},
		network.WithPriority(network.DefaultInterceptResolutionPriority)))
}

// ignoreHandled 其他订阅者已直接下发决定时不算错误
func ignoreHandled(err error) error {
	if errors.Is(err, network.ErrAlreadyHandled) {
		return nil
	}
	return err
}

// apply 以规则优先级提交规则动作
func (h *Handler) apply(ctx context.Context, req *network.Request, r *rulespec.Rule) error {
	prio := network.WithPriority(r.Priority)
	a := r.Action
	switch a.Type {
	case rulespec.ActionContinue:
		return req.Continue(ctx, continueOverrides(req, a), prio)
	case rulespec.ActionRespond:
		resp, err := mockResponse(a)
		if err != nil {
			return err
		}
		return req.Respond(ctx, resp, prio)
	case rulespec.ActionAbort:
		return req.Abort(ctx, a.ErrorCode, prio)
	default:
		return fmt.Errorf("%w %q", rulespec.ErrUnknownAction, a.Type)
	}
}

// continueOverrides 规则中的请求头在原请求头上覆盖，空值表示删除
func continueOverrides(req *network.Request, a rulespec.Action) network.ContinueOverrides {
	ov := network.ContinueOverrides{URL: a.URL, Method: a.Method}
	if a.PostData != "" {
		ov.PostData = []byte(a.PostData)
	}
	if len(a.Headers) > 0 {
		h := req.Headers()
		for k, v := range a.Headers {
			if v == "" {
				h.Del(k)
				continue
			}
			h.Set(k, v)
		}
		ov.Headers = h
	}
	return ov
}

func mockResponse(a rulespec.Action) (network.MockResponse, error) {
	resp := network.MockResponse{
		Status:      a.Status,
		ContentType: a.ContentType,
		Headers:     traffic.NewHeader(a.Headers),
		Body:        []byte(a.Body),
	}
	if a.BodyEncoding == "base64" {
		b, err := base64.StdEncoding.DecodeString(a.Body)
		if err != nil {
			return network.MockResponse{}, fmt.Errorf("decode body: %w", err)
		}
		resp.Body = b
	}
	return resp, nil
}

// buildEvalContext 构造规则匹配上下文
func buildEvalContext(req *network.Request) *rules.EvalContext {
	headers := req.Headers()
	query := map[string]string{}
	cookies := map[string]string{}

	if u, err := url.Parse(req.URL()); err == nil {
		for key, vals := range u.Query() {
			if len(vals) > 0 {
				query[strings.ToLower(key)] = vals[0]
			}
		}
	}
	if v := headers.Get("cookie"); v != "" {
		for name, val := range parseCookie(v) {
			cookies[strings.ToLower(name)] = val
		}
	}

	return &rules.EvalContext{
		URL:          req.URL(),
		Method:       req.Method(),
		ResourceType: req.ResourceType(),
		Headers:      headers,
		Query:        query,
		Cookies:      cookies,
		Body:         req.PostData(),
	}
}

func parseCookie(s string) map[string]string {
	out := make(map[string]string)
	for _, p := range strings.Split(s, ";") {
		kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}
