package cdp

import (
	"context"
	"errors"
	"fmt"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/rpcc"

	adapter "cdpnetwatch/internal/adapter/cdp"
	nw "cdpnetwatch/internal/network"
)

// eventStreams 一个会话上订阅的全部网络事件流
type eventStreams struct {
	willBeSent          network.RequestWillBeSentClient
	willBeSentExtraInfo network.RequestWillBeSentExtraInfoClient
	servedFromCache     network.RequestServedFromCacheClient
	responseReceived    network.ResponseReceivedClient
	responseExtraInfo   network.ResponseReceivedExtraInfoClient
	loadingFinished     network.LoadingFinishedClient
	loadingFailed       network.LoadingFailedClient
	requestPaused       fetch.RequestPausedClient
	authRequired        fetch.AuthRequiredClient

	opened []rpcc.Stream
}

// openStreams 订阅事件并同步各流的顺序，必须在启用 Network 域之前调用
func openStreams(ts *targetSession) (*eventStreams, error) {
	var (
		s   = &eventStreams{}
		ctx = ts.ctx
		err error
	)
	track := func(st rpcc.Stream, e error) error {
		if e != nil {
			return e
		}
		s.opened = append(s.opened, st)
		return nil
	}

	if s.willBeSent, err = ts.client.Network.RequestWillBeSent(ctx); track(s.willBeSent, err) != nil {
		return nil, s.fail(err)
	}
	if s.willBeSentExtraInfo, err = ts.client.Network.RequestWillBeSentExtraInfo(ctx); track(s.willBeSentExtraInfo, err) != nil {
		return nil, s.fail(err)
	}
	if s.servedFromCache, err = ts.client.Network.RequestServedFromCache(ctx); track(s.servedFromCache, err) != nil {
		return nil, s.fail(err)
	}
	if s.responseReceived, err = ts.client.Network.ResponseReceived(ctx); track(s.responseReceived, err) != nil {
		return nil, s.fail(err)
	}
	if s.responseExtraInfo, err = ts.client.Network.ResponseReceivedExtraInfo(ctx); track(s.responseExtraInfo, err) != nil {
		return nil, s.fail(err)
	}
	if s.loadingFinished, err = ts.client.Network.LoadingFinished(ctx); track(s.loadingFinished, err) != nil {
		return nil, s.fail(err)
	}
	if s.loadingFailed, err = ts.client.Network.LoadingFailed(ctx); track(s.loadingFailed, err) != nil {
		return nil, s.fail(err)
	}
	if s.requestPaused, err = ts.client.Fetch.RequestPaused(ctx); track(s.requestPaused, err) != nil {
		return nil, s.fail(err)
	}
	if s.authRequired, err = ts.client.Fetch.AuthRequired(ctx); track(s.authRequired, err) != nil {
		return nil, s.fail(err)
	}

	// 两个域的事件交错到达，同步后按到达顺序逐个就绪
	if err := rpcc.Sync(s.opened...); err != nil {
		return nil, s.fail(fmt.Errorf("sync streams: %w", err))
	}
	return s, nil
}

func (s *eventStreams) fail(err error) error {
	s.close()
	return err
}

func (s *eventStreams) close() {
	for _, st := range s.opened {
		_ = st.Close()
	}
}

// consume 按到达顺序把事件交给网络管理器，连接关闭或上下文取消时返回
func (m *Manager) consume(ts *targetSession, s *eventStreams) {
	defer s.close()
	defer m.handleSessionClosed(ts)

	ctx := ts.ctx
	for {
		var (
			ev  nw.Event
			err error
		)
		select {
		case <-ctx.Done():
			return
		case <-s.willBeSent.Ready():
			var r *network.RequestWillBeSentReply
			if r, err = s.willBeSent.Recv(); err == nil {
				ev = adapter.ToRequestWillBeSent(r)
			}
		case <-s.willBeSentExtraInfo.Ready():
			var r *network.RequestWillBeSentExtraInfoReply
			if r, err = s.willBeSentExtraInfo.Recv(); err == nil {
				ev = adapter.ToRequestWillBeSentExtraInfo(r)
			}
		case <-s.servedFromCache.Ready():
			var r *network.RequestServedFromCacheReply
			if r, err = s.servedFromCache.Recv(); err == nil {
				ev = adapter.ToRequestServedFromCache(r)
			}
		case <-s.responseReceived.Ready():
			var r *network.ResponseReceivedReply
			if r, err = s.responseReceived.Recv(); err == nil {
				ev = adapter.ToResponseReceived(r)
			}
		case <-s.responseExtraInfo.Ready():
			var r *network.ResponseReceivedExtraInfoReply
			if r, err = s.responseExtraInfo.Recv(); err == nil {
				ev = adapter.ToResponseReceivedExtraInfo(r)
			}
		case <-s.loadingFinished.Ready():
			var r *network.LoadingFinishedReply
			if r, err = s.loadingFinished.Recv(); err == nil {
				ev = adapter.ToLoadingFinished(r)
			}
		case <-s.loadingFailed.Ready():
			var r *network.LoadingFailedReply
			if r, err = s.loadingFailed.Recv(); err == nil {
				ev = adapter.ToLoadingFailed(r)
			}
		case <-s.requestPaused.Ready():
			var r *fetch.RequestPausedReply
			if r, err = s.requestPaused.Recv(); err == nil {
				if adapter.IsResponseStage(r) {
					m.continueResponse(ts, r)
					continue
				}
				ev = adapter.ToRequestPaused(r)
			}
		case <-s.authRequired.Ready():
			var r *fetch.AuthRequiredReply
			if r, err = s.authRequired.Recv(); err == nil {
				ev = adapter.ToAuthRequired(r)
			}
		}
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				m.log.Debug("事件流已关闭", "sessionID", string(ts.id), "error", err)
			}
			return
		}
		m.network.HandleEvent(ctx, ts, ev)
	}
}

// continueResponse 响应阶段的暂停不属于本层语义，直接放行
func (m *Manager) continueResponse(ts *targetSession, r *fetch.RequestPausedReply) {
	err := ts.client.Fetch.ContinueResponse(ts.ctx, &fetch.ContinueResponseArgs{RequestID: r.RequestID})
	if err != nil {
		m.log.Err(err, "放行响应阶段失败", "url", r.Request.URL)
	}
}
