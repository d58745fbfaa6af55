package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cdpnetwatch/internal/logger"
	"cdpnetwatch/internal/session/sessiontest"
	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/traffic"
)

type harness struct {
	t    *testing.T
	m    *Manager
	sess *sessiontest.Fake
	log  *logger.Recorder

	mu        sync.Mutex
	events    []string
	requests  []*Request
	responses []*Response
}

func newHarness(t *testing.T, interception bool) *harness {
	t.Helper()
	rec := logger.NewRecorder()
	h := &harness{
		t:    t,
		m:    New(Options{Logger: rec}),
		sess: sessiontest.New("main"),
		log:  rec,
	}
	ctx := context.Background()
	require.NoError(t, h.m.AddSession(ctx, h.sess))
	if interception {
		require.NoError(t, h.m.SetRequestInterception(ctx, true))
	}

	h.m.OnRequest(func(r *Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, "request:"+r.URL())
		h.requests = append(h.requests, r)
	})
	h.m.OnResponse(func(r *Response) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, "response:"+r.URL())
		h.responses = append(h.responses, r)
	})
	h.m.OnRequestFinished(func(r *Request) { h.record("finished:" + r.URL()) })
	h.m.OnRequestFailed(func(r *Request) { h.record("failed:" + r.URL()) })
	h.m.OnRequestServedFromCache(func(r *Request) { h.record("cached:" + r.URL()) })

	h.sess.Reset()
	return h
}

func (h *harness) record(ev string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *harness) send(evs ...Event) {
	for _, ev := range evs {
		h.m.HandleEvent(context.Background(), h.sess, ev)
	}
}

func (h *harness) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *harness) Requests() []*Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Request(nil), h.requests...)
}

func (h *harness) Responses() []*Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Response(nil), h.responses...)
}

// only 断言恰好发出一个 Request 事件并返回它
func (h *harness) only() *Request {
	h.t.Helper()
	reqs := h.Requests()
	require.Len(h.t, reqs, 1)
	return reqs[0]
}

func waitFinalized(t *testing.T, r *Request) {
	t.Helper()
	select {
	case <-r.Finalized():
	case <-time.After(2 * time.Second):
		t.Fatalf("request %s was not finalized", r.ID())
	}
}

func willBeSent(id, url string) *RequestWillBeSent {
	return &RequestWillBeSent{
		RequestID: model.RequestID(id),
		LoaderID:  model.LoaderID(id),
		FrameID:   "frame-1",
		Type:      model.ResourceDocument,
		Request: traffic.RequestData{
			URL:     url,
			Method:  "GET",
			Headers: traffic.Header{"accept": "*/*"},
		},
	}
}

func redirectTo(id, from, to string) *RequestWillBeSent {
	ev := willBeSent(id, to)
	ev.RedirectResponse = &traffic.ResponseData{
		URL:        from,
		Status:     302,
		StatusText: "Found",
		Headers:    traffic.Header{"location": to},
	}
	return ev
}

func paused(interceptionID, networkID, url string) *RequestPaused {
	return &RequestPaused{
		InterceptionID: model.InterceptionID(interceptionID),
		NetworkID:      model.RequestID(networkID),
		FrameID:        "frame-1",
		ResourceType:   model.ResourceDocument,
		Request: traffic.RequestData{
			URL:     url,
			Method:  "GET",
			Headers: traffic.Header{"x-paused": "1"},
		},
	}
}

// redirectedPause Fetch 一侧报告的重定向下一跳
func redirectedPause(interceptionID, networkID, url string, from model.InterceptionID) *RequestPaused {
	ev := paused(interceptionID, networkID, url)
	ev.RedirectedRequestID = from
	return ev
}

func responseReceived(id, url string, status int, hasExtraInfo bool) *ResponseReceived {
	return &ResponseReceived{
		RequestID: model.RequestID(id),
		Type:      model.ResourceDocument,
		Response: traffic.ResponseData{
			URL:        url,
			Status:     status,
			StatusText: "OK",
			Headers:    traffic.Header{"content-type": "text/html"},
			MimeType:   "text/html",
		},
		HasExtraInfo: hasExtraInfo,
	}
}

func responseExtra(id string, headers traffic.Header) *ResponseReceivedExtraInfo {
	return &ResponseReceivedExtraInfo{RequestID: model.RequestID(id), Headers: headers}
}

func finished(id string) *LoadingFinished {
	return &LoadingFinished{RequestID: model.RequestID(id)}
}
