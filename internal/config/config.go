package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cdpnetwatch/pkg/rulespec"
)

// Config 配置文件结构体
type Config struct {
	Version  string          `yaml:"version"`
	DevTools DevToolsConfig  `yaml:"devtools"`
	Sqlite   SqliteConfig    `yaml:"sqlite"`
	Log      LogConfig       `yaml:"log"`
	Network  NetworkConfig   `yaml:"network"`
	Rules    []rulespec.Rule `yaml:"rules"`
}

// DevToolsConfig 浏览器调试端点
type DevToolsConfig struct {
	URL    string `yaml:"url"`
	Target string `yaml:"target"`
}

// SqliteConfig 记录数据库，Dsn 为空时不记录
type SqliteConfig struct {
	Dsn    string `yaml:"dsn"`
	Prefix string `yaml:"prefix"`
}

// LogConfig 日志输出
type LogConfig struct {
	Level  string   `yaml:"level"`
	Writer []string `yaml:"writer"`
	File   string   `yaml:"file"`
}

// NetworkConfig 附加会话时下发的网络配置
type NetworkConfig struct {
	ExtraHeaders   map[string]string  `yaml:"extraHeaders"`
	UserAgent      string             `yaml:"userAgent"`
	AcceptLanguage string             `yaml:"acceptLanguage"`
	Platform       string             `yaml:"platform"`
	CacheDisabled  bool               `yaml:"cacheDisabled"`
	Interception   bool               `yaml:"interception"`
	Offline        bool               `yaml:"offline"`
	Conditions     *ConditionsConfig  `yaml:"conditions"`
	Credentials    *CredentialsConfig `yaml:"credentials"`
	EventBuffer    int                `yaml:"eventBuffer"`
}

// ConditionsConfig 网络节流，吞吐量单位为字节/秒，-1 表示不限制
type ConditionsConfig struct {
	Latency  float64 `yaml:"latency"`
	Download float64 `yaml:"download"`
	Upload   float64 `yaml:"upload"`
}

// CredentialsConfig HTTP 认证凭据
type CredentialsConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		DevTools: DevToolsConfig{
			URL: "http://127.0.0.1:9222",
		},
		Sqlite: SqliteConfig{
			Dsn:    "db.sqlite3",
			Prefix: "cdpnetwatch_",
		},
		Log: LogConfig{
			Level:  "info",
			Writer: []string{"console"},
			File:   "logs/cdpnetwatch.log",
		},
		Network: NetworkConfig{
			EventBuffer: 256,
		},
	}
}

// Load 读取 YAML 文件并覆盖默认配置
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := (rulespec.RuleSet{Rules: cfg.Rules}).Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadRules 读取独立的规则文件
func LoadRules(path string) (rulespec.RuleSet, error) {
	var rs rulespec.RuleSet
	raw, err := os.ReadFile(path)
	if err != nil {
		return rs, fmt.Errorf("read rules: %w", err)
	}
	if err := yaml.Unmarshal(raw, &rs); err != nil {
		return rs, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return rs, rs.Validate()
}
