package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/workgraph/internal/config"
)

func TestNewConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.Empty(t, l.Path())

	l.WithField("unit_id", "wu-1").Debug("scored")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "scored", entry["msg"])
	assert.Equal(t, "wu-1", entry["unit_id"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "chatty"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNewDefaultsToInfoText(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.LoggingConfig{}, &buf)
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestFileOutputAndRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "workgraph.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	// 1MB threshold, start above it
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 1024*1024+1), 0644))

	var console bytes.Buffer
	l, err := New(config.LoggingConfig{File: path, MaxSizeMB: 1}, &console)
	require.NoError(t, err)
	l.Info("after rotation")
	require.NoError(t, l.Close())

	rotated, err := os.Stat(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, int64(1024*1024+1), rotated.Size())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "after rotation"))
	assert.Contains(t, console.String(), "after rotation")
}
