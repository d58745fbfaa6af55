package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cdpnetwatch/internal/ctxkeys"
	"cdpnetwatch/internal/logger"
	"cdpnetwatch/pkg/model"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(Options{DSN: filepath.Join(t.TempDir(), "test.sqlite3"), Prefix: "watch_"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func TestOpenUsesPrefix(t *testing.T) {
	db := openTestDB(t)
	assert.True(t, db.Migrator().HasTable("watch_exchange_records"))
}

func TestRecorderPersistsTerminalEvents(t *testing.T) {
	db := openTestDB(t)
	rec := NewRecorder(db, nil)

	events := make(chan model.NetworkEvent, 8)
	now := time.Now().UnixMilli()
	events <- model.NetworkEvent{Type: model.EventRequest, RequestID: "1", URL: "https://a.test/", Timestamp: now}
	events <- model.NetworkEvent{
		Type:          model.EventRequestFinished,
		Session:       "main",
		RequestID:     "1",
		URL:           "https://a.test/",
		Method:        "GET",
		ResourceType:  model.ResourceDocument,
		Headers:       map[string]string{"accept": "*/*"},
		StatusCode:    200,
		StatusText:    "OK",
		RedirectCount: 1,
		Timestamp:     now,
	}
	events <- model.NetworkEvent{Type: model.EventRequestServedFromCache, RequestID: "2", Timestamp: now + 1}
	events <- model.NetworkEvent{
		Type:      model.EventRequestFailed,
		RequestID: "3",
		URL:       "https://b.test/",
		ErrorText: "net::ERR_FAILED",
		Timestamp: now + 2,
	}
	close(events)

	rec.Run(context.Background(), events)

	list, err := rec.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list, 2)

	failed, finished := list[0], list[1]
	assert.True(t, failed.Failed)
	assert.Equal(t, "net::ERR_FAILED", failed.FailureText)
	assert.NotEmpty(t, failed.TraceID)

	assert.False(t, finished.Failed)
	assert.Equal(t, "main", finished.SessionID)
	assert.Equal(t, 200, finished.Status)
	assert.Equal(t, 1, finished.RedirectCount)
	assert.JSONEq(t, `{"accept":"*/*"}`, finished.Headers)
	assert.Len(t, finished.ID, 36)

	limited, err := rec.List(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecorderStopsOnCancel(t *testing.T) {
	rec := NewRecorder(openTestDB(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx, make(chan model.NetworkEvent))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run 未退出")
	}
}

func TestGormLoggerTrace(t *testing.T) {
	rl := logger.NewRecorder()
	gl := NewGormLogger(rl, 0)
	ctx := ctxkeys.WithTraceID(context.Background(), "trace-1")

	gl.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	assert.Empty(t, rl.Entries(), "默认级别不记录普通SQL")

	gl.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT x", 0 }, gormlogger.ErrRecordNotFound)
	assert.Empty(t, rl.Entries(), "查无记录不算错误")

	gl.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT x", 0 }, assert.AnError)
	entries := rl.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].Level)
	assert.Equal(t, []any{"component", "storage", "traceId", "trace-1"}, entries[0].KV[:4])

	slow := NewGormLogger(rl, time.Millisecond)
	slow.Trace(ctx, time.Now().Add(-time.Second), func() (string, int64) { return "INSERT", 1 }, nil)
	assert.Equal(t, "warn", rl.Entries()[1].Level)

	verbose := gl.LogMode(gormlogger.Info).(*GormLogger)
	verbose.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	assert.Equal(t, "debug", rl.Entries()[2].Level)

	gl.LogMode(gormlogger.Silent).Error(ctx, "ignored")
	assert.Len(t, rl.Entries(), 3)
}
