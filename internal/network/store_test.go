package network

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cdpnetwatch/pkg/traffic"
)

func TestEventStoreQueues(t *testing.T) {
	s := newEventStore()

	first := responseExtra("1", traffic.Header{"n": "1"})
	second := responseExtra("1", traffic.Header{"n": "2"})
	s.pushResponseExtraInfo("1", first)
	s.pushResponseExtraInfo("1", second)
	assert.Equal(t, 2, s.responseExtraInfoLen("1"))
	assert.Same(t, first, s.shiftResponseExtraInfo("1"))
	assert.Same(t, second, s.shiftResponseExtraInfo("1"))
	assert.Nil(t, s.shiftResponseExtraInfo("1"))

	a := &redirectInfo{event: willBeSent("1", "https://a.test/")}
	b := &redirectInfo{event: willBeSent("1", "https://b.test/")}
	s.queueRedirectInfo("1", a)
	s.queueRedirectInfo("1", b)
	assert.Same(t, a, s.takeQueuedRedirectInfo("1"))
	assert.Same(t, b, s.takeQueuedRedirectInfo("1"))
	assert.Nil(t, s.takeQueuedRedirectInfo("1"))

	s.pushRequestExtraInfo("1", &RequestWillBeSentExtraInfo{RequestID: "1"})
	assert.Len(t, s.takeRequestExtraInfo("1"), 1)
	assert.Empty(t, s.takeRequestExtraInfo("1"))
}

func TestEventStoreForgetPurgesEverything(t *testing.T) {
	s := newEventStore()
	s.storeRequestWillBeSent("1", willBeSent("1", pageURL))
	s.storeRequestPaused("1", paused("i1", "1", pageURL))
	s.pushRequestExtraInfo("1", &RequestWillBeSentExtraInfo{RequestID: "1"})
	s.pushResponseExtraInfo("1", responseExtra("1", nil))
	s.queueRedirectInfo("1", &redirectInfo{})
	s.queueEventGroup("1", &queuedEventGroup{})
	s.storeRequest("1", &Request{id: "1"})
	s.storeRequest("2", &Request{id: "2"})
	assert.True(t, s.hasPending("1"))

	s.forget("1")

	assert.False(t, s.hasPending("1"))
	assert.Nil(t, s.getRequest("1"))
	assert.Nil(t, s.getQueuedEventGroup("1"))
	assert.Zero(t, s.responseExtraInfoLen("1"))
	assert.Nil(t, s.takeQueuedRedirectInfo("1"))
	assert.Empty(t, s.takeRequestExtraInfo("1"))
	assert.Equal(t, 1, s.inFlightRequests())
}

func TestParseStatusText(t *testing.T) {
	assert.Equal(t, "Not Found", parseStatusText("HTTP/1.1 404 Not Found\r\nx: y\r\n"))
	assert.Equal(t, "", parseStatusText("HTTP/2 200"))
	assert.Equal(t, "", parseStatusText(""))
}
