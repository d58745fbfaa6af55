package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpnetwatch/internal/config"
	"cdpnetwatch/internal/network"
	"cdpnetwatch/internal/session"
	"cdpnetwatch/internal/session/sessiontest"
	"cdpnetwatch/internal/storage"
	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/rulespec"
	"cdpnetwatch/pkg/traffic"
)

func TestUnknownSession(t *testing.T) {
	s := New(nil, nil)
	ctx := context.Background()

	assert.True(t, errors.Is(s.StopSession("x"), ErrSessionNotFound))
	assert.True(t, errors.Is(s.EnableInterception(ctx, "x"), ErrSessionNotFound))
	_, err := s.GetRuleStats("x")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	_, _, err = s.SubscribeEvents("x")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestListTargetsThroughSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"p1","type":"page","title":"T","url":"https://a.test/","webSocketDebuggerUrl":"ws://x"}]`))
	}))
	defer srv.Close()

	s := New(nil, nil)
	id, err := s.StartSession(context.Background(), model.SessionConfig{DevToolsURL: srv.URL})
	require.NoError(t, err)

	targets, err := s.ListTargets(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, model.TargetID("p1"), targets[0].ID)
	require.NoError(t, s.StopSession(id))
}

func TestRulesAndConfigReachSessions(t *testing.T) {
	ctx := context.Background()
	s := New(nil, nil)
	id, err := s.StartSession(ctx, model.SessionConfig{})
	require.NoError(t, err)

	w, err := s.get(id)
	require.NoError(t, err)
	fake := sessiontest.New("main")
	require.NoError(t, w.network.AddSession(ctx, fake))

	require.NoError(t, s.ConfigureNetwork(ctx, id, config.NetworkConfig{
		ExtraHeaders: map[string]string{"X-A": "1"},
		UserAgent:    "watch",
		Interception: true,
		Credentials:  &config.CredentialsConfig{Username: "u", Password: "p"},
	}))
	assert.Equal(t, 1, fake.Count(sessiontest.SetExtraHTTPHeaders))
	assert.Equal(t, 1, fake.Count(sessiontest.SetUserAgentOverride))
	assert.Equal(t, 1, fake.Count(sessiontest.FetchEnable))

	stats, err := s.GetRuleStats(id)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)

	require.NoError(t, s.LoadRules(id, rulespec.RuleSet{Rules: []rulespec.Rule{{
		ID:     "mock",
		Match:  rulespec.Match{AllOf: []rulespec.Condition{{Type: rulespec.ConditionURL, Mode: rulespec.ModePrefix, Pattern: "https://api.test/"}}},
		Action: rulespec.Action{Type: rulespec.ActionRespond, Status: 204},
	}}}))

	data := traffic.RequestData{URL: "https://api.test/x", Method: "GET", Headers: traffic.Header{}}
	w.network.HandleEvent(ctx, fake, &network.RequestWillBeSent{RequestID: "1", Type: model.ResourceFetch, Request: data})
	w.network.HandleEvent(ctx, fake, &network.RequestPaused{InterceptionID: "i1", NetworkID: "1", ResourceType: model.ResourceFetch, Request: data})

	require.Eventually(t, func() bool { return fake.Count(sessiontest.FulfillRequest) == 1 }, 2*time.Second, 10*time.Millisecond)
	args := fake.Named(sessiontest.FulfillRequest)[0].Args.(session.FulfillRequestArgs)
	assert.Equal(t, 204, args.Status)

	stats, err = s.GetRuleStats(id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ByRule["mock"])

	assert.Error(t, s.LoadRules(id, rulespec.RuleSet{Rules: []rulespec.Rule{{ID: "bad"}}}))
	require.NoError(t, s.StopSession(id))
}

func TestRecordsFinishedExchanges(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(storage.Options{DSN: filepath.Join(t.TempDir(), "rec.sqlite3")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	s := New(nil, db)
	id, err := s.StartSession(ctx, model.SessionConfig{EventBuffer: 16})
	require.NoError(t, err)
	w, err := s.get(id)
	require.NoError(t, err)
	fake := sessiontest.New("main")
	require.NoError(t, w.network.AddSession(ctx, fake))

	events, cancel, err := s.SubscribeEvents(id)
	require.NoError(t, err)
	defer cancel()

	w.network.HandleEvent(ctx, fake, &network.RequestWillBeSent{
		RequestID: "1",
		Type:      model.ResourceDocument,
		Request:   traffic.RequestData{URL: "https://a.test/", Method: "GET", Headers: traffic.Header{}},
	})
	w.network.HandleEvent(ctx, fake, &network.ResponseReceived{
		RequestID: "1",
		Type:      model.ResourceDocument,
		Response:  traffic.ResponseData{URL: "https://a.test/", Status: 200, StatusText: "OK", Headers: traffic.Header{}},
	})
	w.network.HandleEvent(ctx, fake, &network.LoadingFinished{RequestID: "1"})

	var types []model.EventType
	for len(types) < 3 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("事件未送达")
		}
	}
	assert.Equal(t, []model.EventType{model.EventRequest, model.EventResponse, model.EventRequestFinished}, types)

	require.Eventually(t, func() bool {
		list, err := s.ListRecords(ctx, 10)
		return err == nil && len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)
	list, err := s.ListRecords(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 200, list[0].Status)
	assert.Equal(t, "https://a.test/", list[0].URL)

	require.NoError(t, s.StopSession(id))
}
