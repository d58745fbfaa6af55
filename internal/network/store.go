package network

import (
	"cdpnetwatch/internal/session"
	"cdpnetwatch/pkg/model"
)

// redirectInfo 等待 responseReceivedExtraInfo 的重定向续接
type redirectInfo struct {
	event          *RequestWillBeSent
	interceptionID model.InterceptionID
	sess           session.Session
}

// queuedEventGroup 等待 extra info 的 responseReceived
type queuedEventGroup struct {
	responseReceived *ResponseReceived
	sess             session.Session
}

// eventStore 按 RequestID 保存尚未配对的事件，只做存取，不含业务逻辑。
// 所有方法都在 Manager.mu 内调用。
type eventStore struct {
	requestWillBeSent  map[model.RequestID]*RequestWillBeSent
	requestPaused      map[model.RequestID]*RequestPaused
	requests           map[model.RequestID]*Request
	requestExtraInfo   map[model.RequestID][]*RequestWillBeSentExtraInfo
	responseExtraInfo  map[model.RequestID][]*ResponseReceivedExtraInfo
	queuedRedirectInfo map[model.RequestID][]*redirectInfo
	queuedEventGroups  map[model.RequestID]*queuedEventGroup
}

func newEventStore() *eventStore {
	return &eventStore{
		requestWillBeSent:  make(map[model.RequestID]*RequestWillBeSent),
		requestPaused:      make(map[model.RequestID]*RequestPaused),
		requests:           make(map[model.RequestID]*Request),
		requestExtraInfo:   make(map[model.RequestID][]*RequestWillBeSentExtraInfo),
		responseExtraInfo:  make(map[model.RequestID][]*ResponseReceivedExtraInfo),
		queuedRedirectInfo: make(map[model.RequestID][]*redirectInfo),
		queuedEventGroups:  make(map[model.RequestID]*queuedEventGroup),
	}
}

// forget 清除一个 RequestID 的全部记录
func (s *eventStore) forget(id model.RequestID) {
	delete(s.requests, id)
	delete(s.requestWillBeSent, id)
	delete(s.requestPaused, id)
	delete(s.requestExtraInfo, id)
	delete(s.responseExtraInfo, id)
	delete(s.queuedRedirectInfo, id)
	delete(s.queuedEventGroups, id)
}

func (s *eventStore) pushRequestExtraInfo(id model.RequestID, ev *RequestWillBeSentExtraInfo) {
	s.requestExtraInfo[id] = append(s.requestExtraInfo[id], ev)
}

// takeRequestExtraInfo 取出并清空排队的请求 extra info
func (s *eventStore) takeRequestExtraInfo(id model.RequestID) []*RequestWillBeSentExtraInfo {
	list := s.requestExtraInfo[id]
	delete(s.requestExtraInfo, id)
	return list
}

func (s *eventStore) pushResponseExtraInfo(id model.RequestID, ev *ResponseReceivedExtraInfo) {
	s.responseExtraInfo[id] = append(s.responseExtraInfo[id], ev)
}

// shiftResponseExtraInfo 弹出最早的响应 extra info，没有时返回 nil
func (s *eventStore) shiftResponseExtraInfo(id model.RequestID) *ResponseReceivedExtraInfo {
	list := s.responseExtraInfo[id]
	if len(list) == 0 {
		return nil
	}
	ev := list[0]
	if len(list) == 1 {
		delete(s.responseExtraInfo, id)
	} else {
		s.responseExtraInfo[id] = list[1:]
	}
	return ev
}

func (s *eventStore) responseExtraInfoLen(id model.RequestID) int {
	return len(s.responseExtraInfo[id])
}

func (s *eventStore) queueRedirectInfo(id model.RequestID, info *redirectInfo) {
	s.queuedRedirectInfo[id] = append(s.queuedRedirectInfo[id], info)
}

// takeQueuedRedirectInfo 取出最早排队的重定向续接
func (s *eventStore) takeQueuedRedirectInfo(id model.RequestID) *redirectInfo {
	list := s.queuedRedirectInfo[id]
	if len(list) == 0 {
		return nil
	}
	info := list[0]
	if len(list) == 1 {
		delete(s.queuedRedirectInfo, id)
	} else {
		s.queuedRedirectInfo[id] = list[1:]
	}
	return info
}

func (s *eventStore) storeRequestWillBeSent(id model.RequestID, ev *RequestWillBeSent) {
	s.requestWillBeSent[id] = ev
}

func (s *eventStore) getRequestWillBeSent(id model.RequestID) *RequestWillBeSent {
	return s.requestWillBeSent[id]
}

func (s *eventStore) forgetRequestWillBeSent(id model.RequestID) {
	delete(s.requestWillBeSent, id)
}

func (s *eventStore) storeRequestPaused(id model.RequestID, ev *RequestPaused) {
	s.requestPaused[id] = ev
}

func (s *eventStore) getRequestPaused(id model.RequestID) *RequestPaused {
	return s.requestPaused[id]
}

func (s *eventStore) forgetRequestPaused(id model.RequestID) {
	delete(s.requestPaused, id)
}

func (s *eventStore) storeRequest(id model.RequestID, r *Request) {
	s.requests[id] = r
}

func (s *eventStore) getRequest(id model.RequestID) *Request {
	return s.requests[id]
}

func (s *eventStore) forgetRequest(id model.RequestID) {
	delete(s.requests, id)
}

func (s *eventStore) inFlightRequests() int {
	return len(s.requests)
}

func (s *eventStore) queueEventGroup(id model.RequestID, g *queuedEventGroup) {
	s.queuedEventGroups[id] = g
}

func (s *eventStore) getQueuedEventGroup(id model.RequestID) *queuedEventGroup {
	return s.queuedEventGroups[id]
}

func (s *eventStore) forgetQueuedEventGroup(id model.RequestID) {
	delete(s.queuedEventGroups, id)
}

// hasPending 是否还保存着该请求的任意半边事件
func (s *eventStore) hasPending(id model.RequestID) bool {
	return s.requestWillBeSent[id] != nil || s.requestPaused[id] != nil
}
