package session_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"cdpnetwatch/internal/session"
	"cdpnetwatch/internal/session/sessiontest"
)

func TestManagerAddGetDelete(t *testing.T) {
	m := session.NewManager(nil)
	a := sessiontest.New("a")
	b := sessiontest.New("b")

	assert.True(t, m.Add(b))
	assert.True(t, m.Add(a))
	assert.False(t, m.Add(a), "重复注册应被拒绝")
	assert.Equal(t, 2, m.Len())

	got, ok := m.Get("a")
	assert.True(t, ok)
	assert.Same(t, a, got)

	list := m.List()
	assert.Equal(t, "a", string(list[0].ID()))
	assert.Equal(t, "b", string(list[1].ID()))

	assert.True(t, m.Delete("a"))
	assert.False(t, m.Delete("a"))
	_, ok = m.Get("a")
	assert.False(t, ok)
}

func TestIsClosedError(t *testing.T) {
	cases := map[string]bool{
		"Target closed":                        true,
		"Session closed. Most likely the page": true,
		"Fetch.enable: Not supported":          true,
		"No target with given id wasn't found": true,
		"Invalid header: x\nvalue":             false,
		"rpc error: Invalid InterceptionId.":   false,
	}
	for msg, want := range cases {
		assert.Equal(t, want, session.IsClosedError(errors.New(msg)), msg)
	}
	assert.False(t, session.IsClosedError(nil))
	assert.NoError(t, session.IgnoreClosed(errors.New("target closed")))
	assert.Error(t, session.IgnoreClosed(errors.New("boom")))
}
