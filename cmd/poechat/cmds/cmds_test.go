package cmds

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/poechat/pkg/channel"
	"github.com/go-go-golems/poechat/pkg/observer"
	"github.com/go-go-golems/poechat/pkg/persistence/chatstore"
	ptypes "github.com/go-go-golems/poechat/pkg/types"
)

func TestParseZerologLevel(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, parseZerologLevel("DEBUG"))
	require.Equal(t, zerolog.WarnLevel, parseZerologLevel("warning"))
	require.Equal(t, zerolog.InfoLevel, parseZerologLevel("nonsense"))
	require.Equal(t, zerolog.TraceLevel, parseZerologLevel("trace"))
}

func TestLogWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := logWriter("json", &buf, true)
	require.NoError(t, err)
	require.Same(t, &buf, w)

	w, err = logWriter("console", &buf, false)
	require.NoError(t, err)
	cw, ok := w.(zerolog.ConsoleWriter)
	require.True(t, ok)
	require.True(t, cw.NoColor)

	_, err = logWriter("xml", &buf, true)
	require.Error(t, err)
}

func TestParseKinds(t *testing.T) {
	all, err := parseKinds(nil)
	require.NoError(t, err)
	require.Equal(t, observer.Kinds, all)

	some, err := parseKinds([]string{"error", "close"})
	require.NoError(t, err)
	require.Equal(t, []observer.Kind{observer.KindError, observer.KindClose}, some)

	_, err = parseKinds([]string{"bogus"})
	require.Error(t, err)
}

func TestFormatEvent(t *testing.T) {
	msg := formatEvent(observer.WireEvent{
		Kind:   observer.KindMessage,
		TimeMs: time.Now().UnixMilli(),
		Update: &ptypes.RawUpdate{ConversationID: 12, State: ptypes.StateComplete, Text: "Hi"},
	})
	require.Contains(t, msg, "conversation=12")
	require.Contains(t, msg, "state=complete")
	require.Contains(t, msg, "chars=2")

	errLine := formatEvent(observer.WireEvent{Kind: observer.KindError, URL: "ws://x", Error: "reset"})
	require.Contains(t, errLine, "error ws://x: reset")

	closeLine := formatEvent(observer.WireEvent{Kind: observer.KindClose, URL: "ws://x"})
	require.True(t, strings.HasSuffix(closeLine, "close ws://x"))
}

func TestCountTokens(t *testing.T) {
	n, err := countTokens("cl100k_base", "hello world")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = countTokens("no-such-codec", "x")
	require.Error(t, err)
}

func TestAppConfigMissingExplicitFile(t *testing.T) {
	app := &App{ConfigPath: t.TempDir() + "/missing.yaml"}
	_, err := app.Config()
	require.Error(t, err)
}

func rowValue(t *testing.T, row types.Row, field string) interface{} {
	t.Helper()
	v, ok := row.Get(field)
	require.True(t, ok, "missing field %s", field)
	return v
}

func TestHistoryRows(t *testing.T) {
	ctx := context.Background()
	store, err := openTranscriptStore(t.TempDir() + "/transcripts.db")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	require.NoError(t, store.Append(ctx, chatstore.TranscriptEntry{ConversationID: 77, Bot: "echoBot", Role: chatstore.RoleUser, Text: "hi", CreatedAtMs: 1}))
	require.NoError(t, store.Append(ctx, chatstore.TranscriptEntry{ConversationID: 77, Bot: "echoBot", Role: chatstore.RoleBot, Text: "Hi", State: "complete", CreatedAtMs: 2}))
	require.NoError(t, store.Append(ctx, chatstore.TranscriptEntry{ConversationID: 78, Bot: "otherBot", Role: chatstore.RoleUser, Text: "yo", CreatedAtMs: 3}))

	var rows []types.Row
	collect := func(row types.Row) error {
		rows = append(rows, row)
		return nil
	}

	require.NoError(t, historyRows(ctx, store, &HistorySettings{ChatID: 77, Limit: 10}, collect))
	require.Len(t, rows, 2)
	require.Equal(t, "user", rowValue(t, rows[0], "from"))
	require.Equal(t, "hi", rowValue(t, rows[0], "text"))
	require.Equal(t, "echoBot", rowValue(t, rows[1], "from"))
	require.Equal(t, "complete", rowValue(t, rows[1], "state"))

	rows = nil
	require.NoError(t, historyRows(ctx, store, &HistorySettings{Limit: 10}, collect))
	require.Len(t, rows, 2)

	rows = nil
	require.NoError(t, historyRows(ctx, store, &HistorySettings{Bot: "echoBot", Limit: 10}, collect))
	require.Len(t, rows, 1)
	require.Equal(t, int64(77), rowValue(t, rows[0], "conversation_id"))
	require.Equal(t, 2, rowValue(t, rows[0], "messages"))
}

func TestSettingsRow(t *testing.T) {
	row := settingsRow(channel.Settings{BaseHost: "poe.example", BoxName: "box", MinSeq: "5", Channel: "c", ChannelHash: "h"}, "wss://poe.example/up/box/updates")
	require.Equal(t, "poe.example", rowValue(t, row, "base_host"))
	require.Equal(t, "5", rowValue(t, row, "min_seq"))
	require.Equal(t, "wss://poe.example/up/box/updates", rowValue(t, row, "url"))
}

func TestCommandsBuild(t *testing.T) {
	app := &App{}
	h, err := NewHistoryCommand(app)
	require.NoError(t, err)
	cobraCmd, err := cli.BuildCobraCommand(h)
	require.NoError(t, err)
	require.NotNil(t, cobraCmd.Flag("chat-id"))
	require.NotNil(t, cobraCmd.Flag("output"))

	s, err := NewSettingsCommand(app)
	require.NoError(t, err)
	_, err = cli.BuildCobraCommand(s)
	require.NoError(t, err)
}

func TestAttachFlagsCollect(t *testing.T) {
	a := attachFlags{MaxSize: 8, NoGitIgnore: true}
	got, err := a.collect(nil)
	require.NoError(t, err)
	require.Nil(t, got)

	dir := t.TempDir()
	small := filepath.Join(dir, "small.txt")
	require.NoError(t, os.WriteFile(small, []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "large.txt"), []byte("0123456789"), 0o644))

	got, err = a.collect([]string{dir})
	require.NoError(t, err)
	require.Equal(t, []string{small}, got)
}
