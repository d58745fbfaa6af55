package rulespec

import (
	"encoding/base64"
	"errors"
	"fmt"

	"cdpnetwatch/pkg/model"
)

// ConditionType 匹配条件类型
type ConditionType string

const (
	ConditionURL          ConditionType = "url"
	ConditionMethod       ConditionType = "method"
	ConditionHeader       ConditionType = "header"
	ConditionQuery        ConditionType = "query"
	ConditionCookie       ConditionType = "cookie"
	ConditionResourceType ConditionType = "resourceType"
	ConditionText         ConditionType = "text"
	ConditionJSONPath     ConditionType = "json_path"
)

// URL 匹配方式
const (
	ModeGlob   = "glob"
	ModePrefix = "prefix"
	ModeExact  = "exact"
	ModeRegex  = "regex"
)

// 值比较方式，为空时只要求存在
const (
	OpEquals   = "equals"
	OpContains = "contains"
	OpRegex    = "regex"
	OpExists   = "exists"
)

// Condition 单个匹配条件
type Condition struct {
	Type    ConditionType `json:"type" yaml:"type"`
	Mode    string        `json:"mode,omitempty" yaml:"mode,omitempty"`       // url
	Pattern string        `json:"pattern,omitempty" yaml:"pattern,omitempty"` // url
	Values  []string      `json:"values,omitempty" yaml:"values,omitempty"`   // method / resourceType
	Key     string        `json:"key,omitempty" yaml:"key,omitempty"`         // header / query / cookie
	Path    string        `json:"path,omitempty" yaml:"path,omitempty"`       // json_path，gjson 语法
	Op      string        `json:"op,omitempty" yaml:"op,omitempty"`
	Value   string        `json:"value,omitempty" yaml:"value,omitempty"`
}

// Match 条件组合，三组同时满足才算命中
type Match struct {
	AllOf  []Condition `json:"allOf,omitempty" yaml:"allOf,omitempty"`
	AnyOf  []Condition `json:"anyOf,omitempty" yaml:"anyOf,omitempty"`
	NoneOf []Condition `json:"noneOf,omitempty" yaml:"noneOf,omitempty"`
}

// ActionType 规则命中后的拦截决定
type ActionType string

const (
	ActionContinue ActionType = "continue"
	ActionRespond  ActionType = "respond"
	ActionAbort    ActionType = "abort"
)

// Action 拦截动作，只使用与 Type 对应的字段
type Action struct {
	Type ActionType `json:"type" yaml:"type"`

	// continue
	URL      string            `json:"url,omitempty" yaml:"url,omitempty"`
	Method   string            `json:"method,omitempty" yaml:"method,omitempty"`
	PostData string            `json:"postData,omitempty" yaml:"postData,omitempty"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// respond
	Status       int    `json:"status,omitempty" yaml:"status,omitempty"`
	ContentType  string `json:"contentType,omitempty" yaml:"contentType,omitempty"`
	Body         string `json:"body,omitempty" yaml:"body,omitempty"`
	BodyEncoding string `json:"bodyEncoding,omitempty" yaml:"bodyEncoding,omitempty"` // "" 或 base64

	// abort
	ErrorCode string `json:"errorCode,omitempty" yaml:"errorCode,omitempty"`
}

// Rule 拦截规则
type Rule struct {
	ID       model.RuleID `json:"id" yaml:"id"`
	Name     string       `json:"name,omitempty" yaml:"name,omitempty"`
	Disabled bool         `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Priority int          `json:"priority" yaml:"priority"`
	Match    Match        `json:"match" yaml:"match"`
	Action   Action       `json:"action" yaml:"action"`
}

// RuleSet 规则文件
type RuleSet struct {
	Version string `json:"version" yaml:"version"`
	Rules   []Rule `json:"rules" yaml:"rules"`
}

var (
	ErrMissingID     = errors.New("rule id is required")
	ErrDuplicateID   = errors.New("duplicate rule id")
	ErrUnknownAction = errors.New("unknown action type")
	ErrBadCondition  = errors.New("invalid condition")
	ErrBadAction     = errors.New("invalid action")
)

// Validate 检查单条规则的结构
func (r Rule) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	if err := r.Action.validate(); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	for _, group := range [][]Condition{r.Match.AllOf, r.Match.AnyOf, r.Match.NoneOf} {
		for _, c := range group {
			if err := c.validate(); err != nil {
				return fmt.Errorf("rule %s: %w", r.ID, err)
			}
		}
	}
	return nil
}

func (a Action) validate() error {
	switch a.Type {
	case ActionContinue:
	case ActionAbort:
		if _, ok := model.ParseErrorReason(a.ErrorCode); !ok {
			return fmt.Errorf("%w: unknown error code %q", ErrBadAction, a.ErrorCode)
		}
	case ActionRespond:
		if a.Status != 0 && (a.Status < 100 || a.Status > 999) {
			return fmt.Errorf("%w: status %d out of range", ErrBadAction, a.Status)
		}
		switch a.BodyEncoding {
		case "":
		case "base64":
			if _, err := base64.StdEncoding.DecodeString(a.Body); err != nil {
				return fmt.Errorf("%w: body is not base64: %v", ErrBadAction, err)
			}
		default:
			return fmt.Errorf("%w: unknown body encoding %q", ErrBadAction, a.BodyEncoding)
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownAction, a.Type)
	}
	return nil
}

func (c Condition) validate() error {
	switch c.Type {
	case ConditionURL:
		if c.Pattern == "" {
			return fmt.Errorf("%w: url pattern is empty", ErrBadCondition)
		}
	case ConditionMethod, ConditionResourceType:
		if len(c.Values) == 0 {
			return fmt.Errorf("%w: %s values are empty", ErrBadCondition, c.Type)
		}
	case ConditionHeader, ConditionQuery, ConditionCookie:
		if c.Key == "" {
			return fmt.Errorf("%w: %s key is empty", ErrBadCondition, c.Type)
		}
	case ConditionJSONPath:
		if c.Path == "" {
			return fmt.Errorf("%w: json_path path is empty", ErrBadCondition)
		}
	case ConditionText:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrBadCondition, c.Type)
	}
	return nil
}

// Validate 检查规则集，ID 不能重复
func (rs RuleSet) Validate() error {
	seen := make(map[model.RuleID]bool, len(rs.Rules))
	for _, r := range rs.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}
