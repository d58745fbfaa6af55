package traffic

import (
	"sort"
	"strings"
)

// Header 封装通用的头部操作，键统一为小写
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Merge 用 src 覆盖当前 Header 中的同名项
func (h Header) Merge(src Header) {
	for k, v := range src {
		h.Set(k, v)
	}
}

// Clone 返回一份拷贝
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Keys 返回排序后的键列表
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewHeader 从任意大小写的键值表构造 Header
func NewHeader(m map[string]string) Header {
	h := make(Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

// RequestData 协议中的请求负载
type RequestData struct {
	URL         string // 完整URL
	Method      string // HTTP方法
	Headers     Header // 请求头
	PostData    string // 请求体
	HasPostData bool
}

// SecurityDetails TLS 连接信息
type SecurityDetails struct {
	Protocol    string
	SubjectName string
	Issuer      string
	ValidFrom   float64
	ValidTo     float64
}

// ResponseData 协议中的响应负载
type ResponseData struct {
	URL               string
	Status            int
	StatusText        string
	Headers           Header
	MimeType          string
	RemoteIPAddress   string
	RemotePort        int
	FromDiskCache     bool
	FromServiceWorker bool
	FromPrefetchCache bool
	Protocol          string
	SecurityDetails   *SecurityDetails
}
