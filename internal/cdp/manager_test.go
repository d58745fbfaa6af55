package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	nw "cdpnetwatch/internal/network"
	"cdpnetwatch/pkg/model"
)

const targetList = `[
	{"id": "bg", "type": "background_page", "title": "ext", "url": "chrome-extension://abc/bg.html", "webSocketDebuggerUrl": "ws://x/bg"},
	{"id": "devtools", "type": "page", "title": "DevTools", "url": "devtools://devtools/inspector.html", "webSocketDebuggerUrl": "ws://x/devtools"},
	{"id": "p1", "type": "page", "title": "Example", "url": "https://example.test/", "webSocketDebuggerUrl": "ws://x/p1"},
	{"id": "p2", "type": "page", "title": "Other", "url": "https://other.test/", "webSocketDebuggerUrl": "ws://x/p2"}
]`

func devtoolsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(targetList))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestListTargets(t *testing.T) {
	srv := devtoolsServer(t)
	m := New(srv.URL, nw.New(nw.Options{}), nil)

	targets, err := m.ListTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 3)
	assert.Equal(t, model.TargetID("devtools"), targets[0].ID)
	assert.False(t, targets[0].IsUser)
	assert.Equal(t, model.TargetInfo{ID: "p1", Type: "page", URL: "https://example.test/", Title: "Example", IsUser: true}, targets[1])
}

func TestSelectTarget(t *testing.T) {
	targets := []*devtool.Target{
		{ID: "devtools", Type: "page", URL: "devtools://devtools/inspector.html"},
		{ID: "w", Type: "service_worker", URL: "https://example.test/sw.js"},
		{ID: "p1", Type: "page", URL: "https://example.test/"},
		{ID: "p2", Type: "page", URL: "https://other.test/"},
	}
	assert.Equal(t, "p1", selectTarget(targets, "").ID)
	assert.Equal(t, "p2", selectTarget(targets, "p2").ID)
	assert.Equal(t, "devtools", selectTarget(targets, "devtools").ID)
	assert.Nil(t, selectTarget(targets, "w"))
	assert.Nil(t, selectTarget(targets, "missing"))
}

func TestAttachUnknownTarget(t *testing.T) {
	srv := devtoolsServer(t)
	m := New(srv.URL, nw.New(nw.Options{}), nil)

	_, err := m.AttachTarget(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNoTarget))
	assert.True(t, errors.Is(m.DetachTarget("p1"), ErrNotAttached))
	assert.NoError(t, m.Detach())
	assert.Empty(t, m.Attached())
}

func TestAutoAttachPausesChildren(t *testing.T) {
	raw, err := json.Marshal(autoAttachArgs())
	require.NoError(t, err)
	args := gjson.ParseBytes(raw)
	assert.True(t, args.Get("autoAttach").Bool())
	assert.True(t, args.Get("waitForDebuggerOnStart").Bool(), "子目标需在配置下发前暂停")
	assert.False(t, args.Get("flatten").Bool())
	assert.Equal(t, "Runtime.runIfWaitingForDebugger", gjson.Get(resumeMessage, "method").String())
}

func TestChildTargets(t *testing.T) {
	c := newChildTargets()

	id, isFrame := c.attached(&target.AttachedToTargetReply{
		SessionID:  "s1",
		TargetInfo: target.Info{TargetID: "frame-1", Type: "iframe"},
	})
	assert.Equal(t, model.TargetID("frame-1"), id)
	assert.True(t, isFrame)

	_, isFrame = c.attached(&target.AttachedToTargetReply{
		SessionID:  "s2",
		TargetInfo: target.Info{TargetID: "worker-1", Type: "worker"},
	})
	assert.False(t, isFrame, "worker 只恢复运行，不单独监听")

	id, ok := c.detached("s1")
	assert.True(t, ok)
	assert.Equal(t, model.TargetID("frame-1"), id)
	_, ok = c.detached("s1")
	assert.False(t, ok)
	_, ok = c.detached("unknown")
	assert.False(t, ok)
}
