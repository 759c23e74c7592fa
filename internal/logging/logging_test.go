package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

func TestInitJSONWithFile(t *testing.T) {
	defer log.SetDefault(log.Root())
	var stderr bytes.Buffer
	file := filepath.Join(t.TempDir(), "prover.log")
	config := DefaultConfig
	config.Format = "json"
	config.Level = "warn"
	config.File = file
	closer, err := Init(config, &stderr)
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("kept", "block", 18_000_000)
	require.NoError(t, closer.Close())

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(stderr.Bytes()), &record))
	require.Equal(t, "kept", record["msg"])
	require.EqualValues(t, 18_000_000, record["block"])

	written, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Equal(t, stderr.String(), string(written))
}

func TestToSlogLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"trace": log.LevelTrace,
		"debug": log.LevelDebug,
		"info":  log.LevelInfo,
		"WARN":  log.LevelWarn,
		"error": log.LevelError,
		"crit":  log.LevelCrit,
	} {
		level, err := toSlogLevel(name)
		require.NoError(t, err)
		require.Equal(t, want, level)
	}
	_, err := toSlogLevel("verbose")
	require.Error(t, err)
}

func TestInitRejectsConfig(t *testing.T) {
	_, err := Init(Config{Level: "loud"}, &bytes.Buffer{})
	require.Error(t, err)
	_, err = Init(Config{Level: "info", Format: "xml"}, &bytes.Buffer{})
	require.Error(t, err)
}
