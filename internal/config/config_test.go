package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpnetwatch/pkg/rulespec"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
devtools:
  target: ABC
log:
  level: debug
network:
  extraHeaders:
    X-Token: abc
  interception: true
  conditions:
    latency: 100
    download: 5000
    upload: -1
  credentials:
    username: user
    password: pass
rules:
  - id: block-ads
    priority: 10
    match:
      anyOf:
        - type: url
          mode: glob
          pattern: "*://ads.test/*"
    action:
      type: abort
      errorCode: blockedbyclient
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:9222", cfg.DevTools.URL)
	assert.Equal(t, "ABC", cfg.DevTools.Target)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"console"}, cfg.Log.Writer)
	assert.Equal(t, "cdpnetwatch_", cfg.Sqlite.Prefix)
	assert.Equal(t, 256, cfg.Network.EventBuffer)
	assert.Equal(t, map[string]string{"X-Token": "abc"}, cfg.Network.ExtraHeaders)
	assert.True(t, cfg.Network.Interception)
	require.NotNil(t, cfg.Network.Conditions)
	assert.Equal(t, float64(-1), cfg.Network.Conditions.Upload)
	require.NotNil(t, cfg.Network.Credentials)
	assert.Equal(t, "user", cfg.Network.Credentials.Username)

	require.Len(t, cfg.Rules, 1)
	r := cfg.Rules[0]
	assert.Equal(t, 10, r.Priority)
	assert.Equal(t, rulespec.ActionAbort, r.Action.Type)
	assert.Equal(t, rulespec.ConditionURL, r.Match.AnyOf[0].Type)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "log: [unterminated"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "rule.yaml", "rules:\n  - id: x\n    action:\n      type: redirect\n"))
	assert.ErrorIs(t, err, rulespec.ErrUnknownAction)
}

func TestLoadRules(t *testing.T) {
	path := writeFile(t, "rules.yaml", `
version: "1"
rules:
  - id: mock
    priority: 1
    action:
      type: respond
      status: 200
      contentType: text/plain
      body: hello
`)
	rs, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, "hello", rs.Rules[0].Action.Body)

	_, err = LoadRules(writeFile(t, "dup.yaml", "rules:\n  - id: a\n    action: {type: continue}\n  - id: a\n    action: {type: continue}\n"))
	assert.ErrorIs(t, err, rulespec.ErrDuplicateID)
}
