package redisstream

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	s.Enabled = true
	require.NoError(t, s.Validate())

	s.Addr = ""
	require.Error(t, s.Validate())

	s = DefaultSettings()
	s.Enabled = true
	s.Group = " "
	require.Error(t, s.Validate())
}

func TestBuildPublisherDisabled(t *testing.T) {
	_, err := BuildPublisher(DefaultSettings())
	require.Error(t, err)
}

func TestZerologAdapterFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.TraceLevel)
	adapter := NewWatermillLogger(logger).With(watermill.LogFields{"topic": "poechat.message"})

	adapter.Error("publish failed", errors.New("boom"), watermill.LogFields{"attempt": 2})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "error", line["level"])
	require.Equal(t, "publish failed", line["message"])
	require.Equal(t, "boom", line["error"])
	require.Equal(t, "poechat.message", line["topic"])
	require.Equal(t, "watermill", line["component"])
	require.EqualValues(t, 2, line["attempt"])
}

func TestZerologAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewWatermillLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))
	adapter.Debug("hidden", nil)
	adapter.Trace("hidden", nil)
	require.Zero(t, buf.Len())

	adapter.Info("shown", nil)
	require.Contains(t, buf.String(), "shown")
}

func TestIsBusyGroup(t *testing.T) {
	require.True(t, isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")))
	require.False(t, isBusyGroup(errors.New("NOAUTH")))
	require.False(t, isBusyGroup(nil))
}
