package cdp

import (
	"strings"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"cdpnetwatch/pkg/traffic"
)

// HeadersFromJSON 解析 CDP Headers（JSON 对象）为小写键的 Header，非字符串值按原文保存
func HeadersFromJSON(raw []byte) traffic.Header {
	h := make(traffic.Header)
	if len(raw) == 0 {
		return h
	}
	gjson.ParseBytes(raw).ForEach(func(k, v gjson.Result) bool {
		h.Set(k.String(), v.String())
		return true
	})
	return h
}

// HeadersToJSON 把 Header 编码为 CDP Headers 使用的 JSON 对象
func HeadersToJSON(h traffic.Header) ([]byte, error) {
	out := []byte("{}")
	var err error
	for _, k := range h.Keys() {
		out, err = sjson.SetBytes(out, escapePath(k), h[k])
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// escapePath 转义 gjson/sjson 路径中的特殊字符
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ToHeaderEntries 将 Header 转换为 CDP Header 条目，按键排序
func ToHeaderEntries(h traffic.Header) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for _, k := range h.Keys() {
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: h[k]})
	}
	return entries
}

// FromHeaderEntries 将 CDP Header 条目转换为 Header，同名条目以逗号合并
func FromHeaderEntries(entries []fetch.HeaderEntry) traffic.Header {
	h := make(traffic.Header, len(entries))
	for _, e := range entries {
		if cur := h.Get(e.Name); cur != "" {
			h.Set(e.Name, cur+", "+e.Value)
			continue
		}
		h.Set(e.Name, e.Value)
	}
	return h
}
