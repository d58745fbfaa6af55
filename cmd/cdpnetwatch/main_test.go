package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpnetwatch/pkg/model"
)

func TestPrintEventsFilters(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)

	events := make(chan model.NetworkEvent, 3)
	events <- model.NetworkEvent{Type: model.EventRequest, URL: "https://a.test/"}
	events <- model.NetworkEvent{Type: model.EventRequestFinished, URL: "https://a.test/", StatusCode: 200}
	close(events)

	err := printEvents(context.Background(), cmd, events, []string{"requestfinished"})
	require.EqualError(t, err, "event stream closed")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	var ev model.NetworkEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, model.EventRequestFinished, ev.Type)
	assert.Equal(t, 200, ev.StatusCode)
}

func TestPrintEventsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, printEvents(ctx, rootCmd(), make(chan model.NetworkEvent), nil))
}

func TestRecordsCommandOnEmptyDatabase(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, writeConfig(cfgPath, filepath.Join(dir, "db.sqlite3")))

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgPath, "records"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "METHOD")
}

func writeConfig(path, dsn string) error {
	content := fmt.Sprintf("sqlite:\n  dsn: %q\nlog:\n  level: error\n  writer: [console]\n", dsn)
	return os.WriteFile(path, []byte(content), 0o644)
}
