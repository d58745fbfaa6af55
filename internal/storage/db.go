package storage

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"cdpnetwatch/internal/logger"
)

// Options 数据库配置
type Options struct {
	DSN     string
	Prefix  string
	Logger  logger.Logger
	SlowSQL time.Duration // 0 表示默认阈值
}

// Open 打开 sqlite 数据库并迁移表结构
func Open(opts Options) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(opts.DSN), &gorm.Config{
		Logger:         NewGormLogger(opts.Logger, opts.SlowSQL),
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.Prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", opts.DSN, err)
	}
	if err := db.AutoMigrate(&ExchangeRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
