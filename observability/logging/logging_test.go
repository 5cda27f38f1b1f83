package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup("creditd", "test", Options{Level: "debug", Output: &buf})
	require.NoError(t, err)
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))) })

	logger.Debug("position opened", "index", 1)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "position opened", line["message"])
	require.Equal(t, "creditd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 1, line["index"])
}

func TestSetupLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup("creditd", "", Options{Level: "warn", Output: &buf})
	require.NoError(t, err)
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.Contains(t, buf.String(), "kept")
	require.NotContains(t, buf.String(), `"env"`)
}

func TestSetupText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup("creditd", "dev", Options{Format: "text", Output: &buf})
	require.NoError(t, err)
	logger.Info("harvest", "vault", "WETH")
	require.Contains(t, buf.String(), "harvest")
	require.Contains(t, buf.String(), "vault=WETH")
	require.Contains(t, buf.String(), "service=creditd")
}

func TestSetupRejectsUnknownOptions(t *testing.T) {
	_, err := Setup("creditd", "", Options{Format: "xml"})
	require.Error(t, err)
	_, err = Setup("creditd", "", Options{Level: "loud"})
	require.Error(t, err)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("Authorization", "Bearer abc").Value.String())
	require.Equal(t, "0xa1", MaskField("caller", "0xa1").Value.String())
	require.Equal(t, "", MaskField("token", "").Value.String())
}
