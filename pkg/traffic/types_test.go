package traffic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderCaseInsensitive(t *testing.T) {
	h := NewHeader(map[string]string{"Content-Type": "text/html"})
	assert.Equal(t, "text/html", h.Get("content-type"))
	assert.Equal(t, "text/html", h.Get("CONTENT-TYPE"))

	h.Set("X-Trace", "1")
	h.Del("x-TRACE")
	assert.Empty(t, h.Get("x-trace"))
}

func TestHeaderMergeAndClone(t *testing.T) {
	h := NewHeader(map[string]string{"accept": "*/*", "cookie": "a=1"})
	c := h.Clone()
	h.Merge(Header{"Cookie": "a=2", "Origin": "https://example.test"})

	assert.Equal(t, []string{"accept", "cookie", "origin"}, h.Keys())
	assert.Equal(t, "a=2", h.Get("cookie"))
	assert.Equal(t, "a=1", c.Get("cookie"))
}

func TestNilHeaderGet(t *testing.T) {
	var h Header
	assert.Empty(t, h.Get("anything"))
}
