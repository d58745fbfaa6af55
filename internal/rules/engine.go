package rules

import (
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/rulespec"
	"cdpnetwatch/pkg/traffic"
)

// Engine 规则引擎，返回一个请求命中的全部规则
type Engine struct {
	mu    sync.RWMutex
	rules []rulespec.Rule
	regex *regexCache

	statsMu sync.Mutex
	stats   model.EngineStats
}

// EvalContext 规则匹配上下文
type EvalContext struct {
	URL          string
	Method       string
	ResourceType model.ResourceType
	Headers      traffic.Header
	Query        map[string]string
	Cookies      map[string]string
	Body         string
}

// MatchedRule 命中的规则
type MatchedRule struct {
	Rule *rulespec.Rule
}

// New 创建规则引擎，规则集不合法时返回错误
func New(rs rulespec.RuleSet) (*Engine, error) {
	e := &Engine{regex: newRegexCache(), stats: model.EngineStats{ByRule: make(map[model.RuleID]int64)}}
	if err := e.Update(rs); err != nil {
		return nil, err
	}
	return e, nil
}

// Update 替换规则集，按优先级从高到低排列，同优先级保持文件顺序
func (e *Engine) Update(rs rulespec.RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	if err := e.compile(rs.Rules); err != nil {
		return err
	}
	rules := make([]rulespec.Rule, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		if !r.Disabled {
			rules = append(rules, r)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	return nil
}

// compile 预编译所有正则，提前暴露写错的规则
func (e *Engine) compile(rules []rulespec.Rule) error {
	for _, r := range rules {
		for _, group := range [][]rulespec.Condition{r.Match.AllOf, r.Match.AnyOf, r.Match.NoneOf} {
			for _, c := range group {
				var pattern string
				switch {
				case c.Type == rulespec.ConditionURL && c.Mode == rulespec.ModeRegex:
					pattern = c.Pattern
				case c.Op == rulespec.OpRegex:
					pattern = c.Value
				default:
					continue
				}
				if _, err := e.regex.Get(pattern); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Rules 当前生效的规则
func (e *Engine) Rules() []rulespec.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]rulespec.Rule(nil), e.rules...)
}

// Eval 返回命中的规则，按优先级从高到低
func (e *Engine) Eval(ctx *EvalContext) []*MatchedRule {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	var out []*MatchedRule
	for i := range rules {
		if e.matchRule(ctx, rules[i].Match) {
			out = append(out, &MatchedRule{Rule: &rules[i]})
		}
	}
	e.record(out)
	return out
}

func (e *Engine) record(matched []*MatchedRule) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.Total++
	if len(matched) > 0 {
		e.stats.Matched++
	}
	for _, m := range matched {
		e.stats.ByRule[m.Rule.ID]++
	}
}

// Stats 返回匹配统计的拷贝
func (e *Engine) Stats() model.EngineStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := model.EngineStats{Total: e.stats.Total, Matched: e.stats.Matched, ByRule: make(map[model.RuleID]int64, len(e.stats.ByRule))}
	for k, v := range e.stats.ByRule {
		out.ByRule[k] = v
	}
	return out
}

// ResetStats 清空统计
func (e *Engine) ResetStats() {
	e.statsMu.Lock()
	e.stats = model.EngineStats{ByRule: make(map[model.RuleID]int64)}
	e.statsMu.Unlock()
}

func (e *Engine) matchRule(ctx *EvalContext, m rulespec.Match) bool {
	ok := true
	if len(m.AllOf) > 0 {
		ok = ok && e.allOf(ctx, m.AllOf)
	}
	if len(m.AnyOf) > 0 {
		ok = ok && e.anyOf(ctx, m.AnyOf)
	}
	if len(m.NoneOf) > 0 {
		ok = ok && !e.anyOf(ctx, m.NoneOf)
	}
	return ok
}

func (e *Engine) allOf(ctx *EvalContext, cs []rulespec.Condition) bool {
	for i := range cs {
		if !e.cond(ctx, cs[i]) {
			return false
		}
	}
	return true
}

func (e *Engine) anyOf(ctx *EvalContext, cs []rulespec.Condition) bool {
	for i := range cs {
		if e.cond(ctx, cs[i]) {
			return true
		}
	}
	return false
}

func (e *Engine) cond(ctx *EvalContext, c rulespec.Condition) bool {
	switch c.Type {
	case rulespec.ConditionURL:
		switch c.Mode {
		case rulespec.ModePrefix:
			return strings.HasPrefix(ctx.URL, c.Pattern)
		case rulespec.ModeRegex:
			return e.matchRegex(ctx.URL, c.Pattern)
		case rulespec.ModeExact:
			return ctx.URL == c.Pattern
		default:
			return glob(ctx.URL, c.Pattern)
		}
	case rulespec.ConditionMethod:
		for _, v := range c.Values {
			if strings.EqualFold(ctx.Method, v) {
				return true
			}
		}
		return false
	case rulespec.ConditionResourceType:
		for _, v := range c.Values {
			if strings.EqualFold(string(ctx.ResourceType), v) {
				return true
			}
		}
		return false
	case rulespec.ConditionHeader:
		v, ok := ctx.Headers[strings.ToLower(c.Key)]
		return ok && e.compare(v, c)
	case rulespec.ConditionQuery:
		v, ok := ctx.Query[strings.ToLower(c.Key)]
		return ok && e.compare(v, c)
	case rulespec.ConditionCookie:
		v, ok := ctx.Cookies[strings.ToLower(c.Key)]
		return ok && e.compare(v, c)
	case rulespec.ConditionText:
		return ctx.Body != "" && e.compare(ctx.Body, c)
	case rulespec.ConditionJSONPath:
		if ctx.Body == "" || !gjson.Valid(ctx.Body) {
			return false
		}
		r := gjson.Get(ctx.Body, c.Path)
		if !r.Exists() {
			return false
		}
		v := r.String()
		if r.IsObject() || r.IsArray() {
			v = r.Raw
		}
		return e.compare(v, c)
	default:
		return false
	}
}

// compare 按 Op 比较取到的值，Op 为空或 exists 只要求存在
func (e *Engine) compare(v string, c rulespec.Condition) bool {
	switch c.Op {
	case rulespec.OpEquals:
		return v == c.Value
	case rulespec.OpContains:
		return strings.Contains(v, c.Value)
	case rulespec.OpRegex:
		return e.matchRegex(v, c.Value)
	default:
		return true
	}
}

func (e *Engine) matchRegex(s, pattern string) bool {
	re, err := e.regex.Get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// glob 支持 * 匹配任意长度字符
func glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return s == pattern
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, p := range parts[1 : len(parts)-1] {
		i := strings.Index(s, p)
		if i < 0 {
			return false
		}
		s = s[i+len(p):]
	}
	return strings.HasSuffix(s, last)
}
