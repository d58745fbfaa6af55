package api

import (
	"context"

	"gorm.io/gorm"

	"cdpnetwatch/internal/config"
	"cdpnetwatch/internal/logger"
	"cdpnetwatch/internal/service"
	"cdpnetwatch/internal/storage"
	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/rulespec"
)

// Service 服务接口
type Service interface {
	// StartSession 启动会话
	StartSession(ctx context.Context, cfg model.SessionConfig) (model.SessionID, error)

	// StopSession 停止会话
	StopSession(id model.SessionID) error

	// ListTargets 列出目标
	ListTargets(ctx context.Context, id model.SessionID) ([]model.TargetInfo, error)

	// AttachTarget 附加目标
	AttachTarget(ctx context.Context, id model.SessionID, target model.TargetID) (model.TargetID, error)

	// DetachTarget 分离目标
	DetachTarget(id model.SessionID, target model.TargetID) error

	// EnableInterception 启用拦截
	EnableInterception(ctx context.Context, id model.SessionID) error

	// DisableInterception 禁用拦截
	DisableInterception(ctx context.Context, id model.SessionID) error

	// SetExtraHTTPHeaders 设置附加请求头
	SetExtraHTTPHeaders(ctx context.Context, id model.SessionID, headers map[string]string) error

	// Authenticate 设置 HTTP 认证凭据
	Authenticate(ctx context.Context, id model.SessionID, username, password string) error

	// ConfigureNetwork 下发网络配置
	ConfigureNetwork(ctx context.Context, id model.SessionID, nc config.NetworkConfig) error

	// LoadRules 加载规则配置
	LoadRules(id model.SessionID, rs rulespec.RuleSet) error

	// GetRuleStats 获取规则统计信息
	GetRuleStats(id model.SessionID) (model.EngineStats, error)

	// SubscribeEvents 订阅事件
	SubscribeEvents(id model.SessionID) (<-chan model.NetworkEvent, func(), error)

	// ListRecords 读取请求记录
	ListRecords(ctx context.Context, limit int) ([]storage.ExchangeRecord, error)
}

// NewService 创建并返回服务接口实现
func NewService(l logger.Logger, db *gorm.DB) Service {
	return service.New(l, db)
}
