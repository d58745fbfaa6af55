package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpnetwatch/internal/logger"
	"cdpnetwatch/internal/network"
	"cdpnetwatch/internal/rules"
	"cdpnetwatch/internal/session"
	"cdpnetwatch/internal/session/sessiontest"
	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/rulespec"
	"cdpnetwatch/pkg/traffic"
)

const apiURL = "https://api.test/items?id=7"

type fixture struct {
	t    *testing.T
	m    *network.Manager
	sess *sessiontest.Fake
	h    *Handler
	reqs chan *network.Request
}

func newFixture(t *testing.T, rs ...rulespec.Rule) *fixture {
	t.Helper()
	f := newBareFixture(t)

	var engine *rules.Engine
	if len(rs) > 0 {
		var err error
		engine, err = rules.New(rulespec.RuleSet{Rules: rs})
		require.NoError(t, err)
	}
	f.h = New(Config{Engine: engine})
	f.h.Attach(f.m)
	return f
}

// newBareFixture 开启拦截但不挂载 Handler
func newBareFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		t:    t,
		m:    network.New(network.Options{}),
		sess: sessiontest.New("main"),
		reqs: make(chan *network.Request, 8),
	}
	require.NoError(t, f.m.AddSession(ctx, f.sess))
	require.NoError(t, f.m.SetRequestInterception(ctx, true))
	f.m.OnRequest(func(r *network.Request) { f.reqs <- r })
	f.sess.Reset()
	return f
}

// intercept 发送一对请求事件并等待拦截决定下发
func (f *fixture) intercept(headers traffic.Header, postData string) *network.Request {
	f.t.Helper()
	data := traffic.RequestData{URL: apiURL, Method: "POST", Headers: headers, PostData: postData, HasPostData: postData != ""}
	ctx := context.Background()
	f.m.HandleEvent(ctx, f.sess, &network.RequestWillBeSent{
		RequestID: "1",
		LoaderID:  "L1",
		Type:      model.ResourceXHR,
		Request:   data,
	})
	f.m.HandleEvent(ctx, f.sess, &network.RequestPaused{
		InterceptionID: "i1",
		NetworkID:      "1",
		ResourceType:   model.ResourceXHR,
		Request:        data,
	})

	var req *network.Request
	select {
	case req = <-f.reqs:
	case <-time.After(2 * time.Second):
		f.t.Fatal("请求未创建")
	}
	select {
	case <-req.Finalized():
	case <-time.After(2 * time.Second):
		f.t.Fatal("拦截决定未下发")
	}
	return req
}

func (f *fixture) replies() []sessiontest.Command {
	var out []sessiontest.Command
	for _, c := range f.sess.Commands() {
		switch c.Method {
		case sessiontest.ContinueRequest, sessiontest.FulfillRequest, sessiontest.FailRequest:
			out = append(out, c)
		}
	}
	return out
}

func match(conds ...rulespec.Condition) rulespec.Match {
	return rulespec.Match{AllOf: conds}
}

var apiPrefix = rulespec.Condition{Type: rulespec.ConditionURL, Mode: rulespec.ModePrefix, Pattern: "https://api.test/"}

func TestNoRulesContinues(t *testing.T) {
	f := newFixture(t)
	f.intercept(traffic.Header{"accept": "*/*"}, "")

	replies := f.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, session.ContinueRequestArgs{InterceptionID: "i1"}, replies[0].Args)
}

func TestHigherPriorityRuleWins(t *testing.T) {
	f := newFixture(t,
		rulespec.Rule{ID: "block", Priority: 1, Match: match(apiPrefix), Action: rulespec.Action{Type: rulespec.ActionAbort, ErrorCode: "blockedbyclient"}},
		rulespec.Rule{ID: "mock", Priority: 3, Match: match(apiPrefix), Action: rulespec.Action{
			Type:        rulespec.ActionRespond,
			Status:      418,
			ContentType: "application/json",
			Body:        `{"ok":true}`,
		}},
	)
	f.intercept(traffic.Header{}, "")

	replies := f.replies()
	require.Len(t, replies, 1)
	args := replies[0].Args.(session.FulfillRequestArgs)
	assert.Equal(t, 418, args.Status)
	assert.Equal(t, `{"ok":true}`, string(args.Body))
	assert.Equal(t, "application/json", args.Headers.Get("content-type"))

	stats := f.h.Engine().Stats()
	assert.Equal(t, int64(1), stats.ByRule["mock"])
	assert.Equal(t, int64(1), stats.ByRule["block"])
}

func TestAbortRule(t *testing.T) {
	f := newFixture(t, rulespec.Rule{
		ID:       "block",
		Priority: 5,
		Match:    match(rulespec.Condition{Type: rulespec.ConditionMethod, Values: []string{"POST"}}),
		Action:   rulespec.Action{Type: rulespec.ActionAbort, ErrorCode: "blockedbyclient"},
	})
	f.intercept(traffic.Header{}, "")

	replies := f.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, session.FailRequestArgs{InterceptionID: "i1", Reason: model.ErrorReasonBlockedByClient}, replies[0].Args)
}

func TestNegativePriorityLosesToDefault(t *testing.T) {
	f := newFixture(t, rulespec.Rule{
		ID:       "weak",
		Priority: -1,
		Match:    match(apiPrefix),
		Action:   rulespec.Action{Type: rulespec.ActionAbort},
	})
	f.intercept(traffic.Header{}, "")

	replies := f.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, sessiontest.ContinueRequest, replies[0].Method)
}

func TestContinueRuleRewritesRequest(t *testing.T) {
	f := newFixture(t, rulespec.Rule{
		ID:       "rewrite",
		Priority: 2,
		Match: match(
			rulespec.Condition{Type: rulespec.ConditionCookie, Key: "session", Op: rulespec.OpEquals, Value: "s1"},
			rulespec.Condition{Type: rulespec.ConditionJSONPath, Path: "user", Op: rulespec.OpEquals, Value: "ann"},
		),
		Action: rulespec.Action{
			Type:     rulespec.ActionContinue,
			Method:   "PUT",
			PostData: `{"user":"bob"}`,
			Headers:  map[string]string{"X-Debug": "1", "Cookie": ""},
		},
	})
	f.intercept(traffic.Header{"accept": "*/*", "cookie": "session=s1; theme=dark"}, `{"user":"ann"}`)

	replies := f.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, session.ContinueRequestArgs{
		InterceptionID: "i1",
		Method:         "PUT",
		PostData:       []byte(`{"user":"bob"}`),
		Headers:        traffic.Header{"accept": "*/*", "x-debug": "1"},
	}, replies[0].Args)
}

func TestDirectDecisionByOtherListener(t *testing.T) {
	f := newFixture(t)
	f.m.OnRequest(func(r *network.Request) {
		assert.NoError(t, r.Abort(context.Background(), "aborted"))
	})
	f.intercept(traffic.Header{}, "")

	replies := f.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, sessiontest.FailRequest, replies[0].Method)
}

func TestNotInterceptedWhenDisabled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.SetRequestInterception(context.Background(), false))
	f.sess.Reset()

	f.m.HandleEvent(context.Background(), f.sess, &network.RequestWillBeSent{
		RequestID: "1",
		Type:      model.ResourceXHR,
		Request:   traffic.RequestData{URL: apiURL, Method: "GET", Headers: traffic.Header{}},
	})
	req := <-f.reqs
	assert.False(t, req.InterceptionAllowed())
	assert.Empty(t, f.replies())
}

func TestMockResponseBase64(t *testing.T) {
	resp, err := mockResponse(rulespec.Action{Type: rulespec.ActionRespond, Body: "aGk=", BodyEncoding: "base64"})
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), resp.Body)

	_, err = mockResponse(rulespec.Action{Type: rulespec.ActionRespond, Body: "%%", BodyEncoding: "base64"})
	assert.Error(t, err)
}

func TestFailingRuleStillContinues(t *testing.T) {
	f := newBareFixture(t)
	rec := logger.NewRecorder()
	h := New(Config{Logger: rec})
	broken := []*rules.MatchedRule{
		{Rule: &rulespec.Rule{ID: "bad-code", Priority: 1, Action: rulespec.Action{Type: rulespec.ActionAbort, ErrorCode: "bogus"}}},
		{Rule: &rulespec.Rule{ID: "bad-body", Priority: 2, Action: rulespec.Action{Type: rulespec.ActionRespond, Body: "%%", BodyEncoding: "base64"}}},
	}
	f.m.OnRequest(func(r *network.Request) {
		r.EnqueueInterceptAction(func(ctx context.Context) error {
			return h.resolve(ctx, r, broken)
		})
	})
	req := f.intercept(traffic.Header{}, "")

	replies := f.replies()
	require.Len(t, replies, 1, "规则出错时仍需放行")
	assert.Equal(t, session.ContinueRequestArgs{InterceptionID: "i1"}, replies[0].Args)
	assert.Equal(t, network.ActionAlreadyHandled, req.InterceptResolution().Action)

	errs := rec.Errors()
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], network.ErrUnknownErrorCode)
}
