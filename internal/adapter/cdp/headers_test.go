package cdp

import (
	"testing"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"cdpnetwatch/pkg/traffic"
)

func TestHeadersRoundTrip(t *testing.T) {
	h := traffic.Header{"x.dotted": "1", "x-plain": "a\"b", "x*star": "2"}
	raw, err := HeadersToJSON(h)
	require.NoError(t, err)
	assert.True(t, gjson.ValidBytes(raw))
	assert.Equal(t, h, HeadersFromJSON(raw))
}

func TestHeadersFromJSONEmpty(t *testing.T) {
	assert.Empty(t, HeadersFromJSON(nil))
	assert.NotNil(t, HeadersFromJSON(nil))
}

func TestHeaderEntries(t *testing.T) {
	entries := ToHeaderEntries(traffic.Header{"b": "2", "a": "1"})
	assert.Equal(t, []fetch.HeaderEntry{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}, entries)

	h := FromHeaderEntries([]fetch.HeaderEntry{
		{Name: "Set-Cookie", Value: "a=1"},
		{Name: "set-cookie", Value: "b=2"},
		{Name: "Content-Type", Value: "text/html"},
	})
	assert.Equal(t, traffic.Header{"set-cookie": "a=1, b=2", "content-type": "text/html"}, h)
}
