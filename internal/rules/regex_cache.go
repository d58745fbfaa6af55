package rules

import (
	"regexp"
	"sync"
)

// regexCache 按模式缓存编译后的正则
type regexCache struct {
	mu sync.RWMutex
	m  map[string]*regexp.Regexp
}

func newRegexCache() *regexCache {
	return &regexCache{m: make(map[string]*regexp.Regexp)}
}

// Get 返回编译后的正则，首次使用时编译
func (c *regexCache) Get(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.m[pattern]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.m[pattern] = re
	c.mu.Unlock()
	return re, nil
}
