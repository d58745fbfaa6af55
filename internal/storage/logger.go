package storage

import (
	"context"
	"errors"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"cdpnetwatch/internal/ctxkeys"
	"cdpnetwatch/internal/logger"
)

// defaultSlowSQL 记录库写入超过该耗时记为慢查询
const defaultSlowSQL = 200 * time.Millisecond

// GormLogger 记录库的 SQL 日志，带上写入该交换时生成的 traceId
type GormLogger struct {
	log   logger.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

var _ gormlogger.Interface = (*GormLogger)(nil)

// NewGormLogger slow 为 0 时使用默认阈值；默认只输出告警与错误
func NewGormLogger(l logger.Logger, slow time.Duration) *GormLogger {
	if l == nil {
		l = logger.NewNop()
	}
	if slow <= 0 {
		slow = defaultSlowSQL
	}
	return &GormLogger{log: l.With("component", "storage"), level: gormlogger.Warn, slow: slow}
}

// LogMode 返回指定级别的副本
func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	g.emit(ctx, gormlogger.Info, msg, data)
}

func (g *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	g.emit(ctx, gormlogger.Warn, msg, data)
}

func (g *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	g.emit(ctx, gormlogger.Error, msg, data)
}

// emit 按 gorm 级别分发，键值对前缀为 traceId
func (g *GormLogger) emit(ctx context.Context, at gormlogger.LogLevel, msg string, kv []any) {
	if g.level < at {
		return
	}
	kv = append([]any{"traceId", ctxkeys.TraceID(ctx)}, kv...)
	switch at {
	case gormlogger.Error:
		g.log.Error(msg, kv...)
	case gormlogger.Warn:
		g.log.Warn(msg, kv...)
	case gormlogger.Info:
		g.log.Info(msg, kv...)
	default:
		g.log.Debug(msg, kv...)
	}
}

// Trace 失败的语句记为错误（查无记录除外），慢语句记为告警，Info 级别下其余语句记为 debug
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	took := time.Since(begin)
	stmt, rows := fc()
	kv := []any{"sql", stmt, "rows", rows, "took", took.String()}

	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound):
		g.emit(ctx, gormlogger.Error, "记录库语句失败", append(kv, "error", err.Error()))
	case took > g.slow:
		g.emit(ctx, gormlogger.Warn, "记录库慢语句", append(kv, "threshold", g.slow.String()))
	case g.level >= gormlogger.Info:
		g.emit(ctx, gormlogger.Silent, "记录库语句", kv)
	}
}
