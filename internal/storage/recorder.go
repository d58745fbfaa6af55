package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cdpnetwatch/internal/ctxkeys"
	"cdpnetwatch/internal/logger"
	"cdpnetwatch/pkg/model"
)

// ExchangeRecord 一次已结束的请求
type ExchangeRecord struct {
	ID            string `gorm:"primaryKey;size:36"`
	TraceID       string `gorm:"size:36;index"`
	SessionID     string `gorm:"index"`
	RequestID     string `gorm:"index"`
	URL           string
	Method        string `gorm:"size:16"`
	ResourceType  string `gorm:"size:32"`
	Status        int
	StatusText    string
	FromCache     bool
	Failed        bool
	FailureText   string
	RedirectCount int
	Headers       string    // JSON
	CreatedAt     time.Time `gorm:"index"`
}

// Recorder 订阅网络事件并持久化已结束的请求
type Recorder struct {
	db  *gorm.DB
	log logger.Logger
}

// NewRecorder 创建记录器
func NewRecorder(db *gorm.DB, l logger.Logger) *Recorder {
	if l == nil {
		l = logger.NewNop()
	}
	return &Recorder{db: db, log: l}
}

// Run 消费事件直到通道关闭或上下文取消，缓存命中的请求在结束时一并记录
func (r *Recorder) Run(ctx context.Context, events <-chan model.NetworkEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != model.EventRequestFinished && ev.Type != model.EventRequestFailed {
				continue
			}
			tctx := ctxkeys.WithTraceID(ctx, uuid.NewString())
			if err := r.Save(tctx, ev); err != nil {
				r.log.Err(err, "保存请求记录失败", "url", ev.URL)
			}
		}
	}
}

// Save 写入一条记录
func (r *Recorder) Save(ctx context.Context, ev model.NetworkEvent) error {
	headers, err := json.Marshal(ev.Headers)
	if err != nil {
		return err
	}
	rec := &ExchangeRecord{
		ID:            uuid.NewString(),
		TraceID:       ctxkeys.TraceID(ctx),
		SessionID:     string(ev.Session),
		RequestID:     string(ev.RequestID),
		URL:           ev.URL,
		Method:        ev.Method,
		ResourceType:  string(ev.ResourceType),
		Status:        ev.StatusCode,
		StatusText:    ev.StatusText,
		FromCache:     ev.FromCache,
		Failed:        ev.Type == model.EventRequestFailed,
		FailureText:   ev.ErrorText,
		RedirectCount: ev.RedirectCount,
		Headers:       string(headers),
		CreatedAt:     time.UnixMilli(ev.Timestamp),
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

// List 按时间倒序返回最近的记录，limit <= 0 时返回全部
func (r *Recorder) List(ctx context.Context, limit int) ([]ExchangeRecord, error) {
	var out []ExchangeRecord
	q := r.db.WithContext(ctx).Order("created_at desc, id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
