package cdp

import (
	"encoding/json"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/tidwall/gjson"

	nw "cdpnetwatch/internal/network"
	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/traffic"
)

// decode 按协议字段名读取事件，可选字段不依赖生成代码中的指针形态
func decode(v any) gjson.Result {
	raw, err := json.Marshal(v)
	if err != nil {
		return gjson.Result{}
	}
	return gjson.ParseBytes(raw)
}

// ToRequestData 转换 network.Request，URL 带上 fragment
func ToRequestData(r *network.Request) traffic.RequestData {
	j := decode(r)
	return traffic.RequestData{
		URL:         r.URL + j.Get("urlFragment").String(),
		Method:      r.Method,
		Headers:     HeadersFromJSON(r.Headers),
		PostData:    j.Get("postData").String(),
		HasPostData: j.Get("hasPostData").Bool(),
	}
}

// ToResponseData 转换 network.Response
func ToResponseData(r *network.Response) traffic.ResponseData {
	j := decode(r)
	out := traffic.ResponseData{
		URL:               r.URL,
		Status:            r.Status,
		StatusText:        r.StatusText,
		Headers:           HeadersFromJSON(r.Headers),
		MimeType:          r.MimeType,
		RemoteIPAddress:   j.Get("remoteIPAddress").String(),
		RemotePort:        int(j.Get("remotePort").Int()),
		FromDiskCache:     j.Get("fromDiskCache").Bool(),
		FromServiceWorker: j.Get("fromServiceWorker").Bool(),
		FromPrefetchCache: j.Get("fromPrefetchCache").Bool(),
		Protocol:          j.Get("protocol").String(),
	}
	if sd := j.Get("securityDetails"); sd.IsObject() {
		out.SecurityDetails = &traffic.SecurityDetails{
			Protocol:    sd.Get("protocol").String(),
			SubjectName: sd.Get("subjectName").String(),
			Issuer:      sd.Get("issuer").String(),
			ValidFrom:   sd.Get("validFrom").Float(),
			ValidTo:     sd.Get("validTo").Float(),
		}
	}
	return out
}

// ToRequestWillBeSent Network.requestWillBeSent
func ToRequestWillBeSent(ev *network.RequestWillBeSentReply) *nw.RequestWillBeSent {
	j := decode(ev)
	out := &nw.RequestWillBeSent{
		RequestID:            model.RequestID(ev.RequestID),
		LoaderID:             model.LoaderID(ev.LoaderID),
		FrameID:              model.FrameID(j.Get("frameId").String()),
		Type:                 model.ResourceType(j.Get("type").String()),
		DocumentURL:          ev.DocumentURL,
		Request:              ToRequestData(&ev.Request),
		RedirectHasExtraInfo: ev.RedirectHasExtraInfo,
	}
	if ev.RedirectResponse != nil {
		resp := ToResponseData(ev.RedirectResponse)
		out.RedirectResponse = &resp
	}
	return out
}

// ToRequestWillBeSentExtraInfo Network.requestWillBeSentExtraInfo
func ToRequestWillBeSentExtraInfo(ev *network.RequestWillBeSentExtraInfoReply) *nw.RequestWillBeSentExtraInfo {
	return &nw.RequestWillBeSentExtraInfo{
		RequestID: model.RequestID(ev.RequestID),
		Headers:   HeadersFromJSON(ev.Headers),
	}
}

// ToRequestServedFromCache Network.requestServedFromCache
func ToRequestServedFromCache(ev *network.RequestServedFromCacheReply) *nw.RequestServedFromCache {
	return &nw.RequestServedFromCache{RequestID: model.RequestID(ev.RequestID)}
}

// ToResponseReceived Network.responseReceived
func ToResponseReceived(ev *network.ResponseReceivedReply) *nw.ResponseReceived {
	j := decode(ev)
	return &nw.ResponseReceived{
		RequestID:    model.RequestID(ev.RequestID),
		LoaderID:     model.LoaderID(ev.LoaderID),
		FrameID:      model.FrameID(j.Get("frameId").String()),
		Type:         model.ResourceType(j.Get("type").String()),
		Response:     ToResponseData(&ev.Response),
		HasExtraInfo: ev.HasExtraInfo,
	}
}

// ToResponseReceivedExtraInfo Network.responseReceivedExtraInfo
func ToResponseReceivedExtraInfo(ev *network.ResponseReceivedExtraInfoReply) *nw.ResponseReceivedExtraInfo {
	j := decode(ev)
	return &nw.ResponseReceivedExtraInfo{
		RequestID:   model.RequestID(ev.RequestID),
		Headers:     HeadersFromJSON(ev.Headers),
		StatusCode:  int(j.Get("statusCode").Int()),
		HeadersText: j.Get("headersText").String(),
	}
}

// ToLoadingFinished Network.loadingFinished
func ToLoadingFinished(ev *network.LoadingFinishedReply) *nw.LoadingFinished {
	return &nw.LoadingFinished{
		RequestID:         model.RequestID(ev.RequestID),
		EncodedDataLength: ev.EncodedDataLength,
	}
}

// ToLoadingFailed Network.loadingFailed
func ToLoadingFailed(ev *network.LoadingFailedReply) *nw.LoadingFailed {
	j := decode(ev)
	return &nw.LoadingFailed{
		RequestID:     model.RequestID(ev.RequestID),
		Type:          model.ResourceType(j.Get("type").String()),
		ErrorText:     ev.ErrorText,
		Canceled:      j.Get("canceled").Bool(),
		BlockedReason: j.Get("blockedReason").String(),
	}
}

// ToRequestPaused Fetch.requestPaused
func ToRequestPaused(ev *fetch.RequestPausedReply) *nw.RequestPaused {
	j := decode(ev)
	return &nw.RequestPaused{
		InterceptionID:      model.InterceptionID(ev.RequestID),
		NetworkID:           model.RequestID(j.Get("networkId").String()),
		RedirectedRequestID: model.InterceptionID(j.Get("redirectedRequestId").String()),
		FrameID:             model.FrameID(j.Get("frameId").String()),
		ResourceType:        model.ResourceType(j.Get("resourceType").String()),
		Request:             ToRequestData(&ev.Request),
	}
}

// IsResponseStage 响应阶段的 requestPaused 不参与请求对账
func IsResponseStage(ev *fetch.RequestPausedReply) bool {
	return ev.ResponseStatusCode != nil || len(ev.ResponseHeaders) > 0
}

// ToAuthRequired Fetch.authRequired
func ToAuthRequired(ev *fetch.AuthRequiredReply) *nw.AuthRequired {
	j := decode(ev)
	c := j.Get("authChallenge")
	return &nw.AuthRequired{
		InterceptionID: model.InterceptionID(ev.RequestID),
		FrameID:        model.FrameID(j.Get("frameId").String()),
		ResourceType:   model.ResourceType(j.Get("resourceType").String()),
		Request:        ToRequestData(&ev.Request),
		Challenge: nw.AuthChallenge{
			Source: c.Get("source").String(),
			Origin: c.Get("origin").String(),
			Scheme: c.Get("scheme").String(),
			Realm:  c.Get("realm").String(),
		},
	}
}
