package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(WithLevel("loud"), WithOutputPaths([]string{"stdout"}))
	require.Error(t, err)
}

func TestNewLoggerCreatesLogDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "worker.log")

	log, err := NewLogger(
		WithLevel("debug"),
		WithEncoding("console"),
		WithOutputPaths([]string{path}),
		WithErrorPaths(nil),
		WithInitialFields(map[string]interface{}{"service": "test"}),
	)
	require.NoError(t, err)
	log.Named("unit").With(String("k", "v")).Info("hello")
	_ = log.Sync()

	assert.DirExists(t, filepath.Dir(path))
}

func TestTestLoggerSharesEntriesAcrossChildren(t *testing.T) {
	root := NewTestLogger()
	child := root.Named("pipeline").With(String("document_id", "abc"))

	child.Warn("hash mismatch")
	root.Info("started")

	entries := root.GetEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "pipeline", entries[0].Logger)
	assert.Equal(t, "WARN", entries[0].Level)
	require.Len(t, entries[0].Fields, 1)
	assert.Equal(t, "document_id", entries[0].Fields[0].Key)

	assert.Len(t, root.EntriesAt("WARN"), 1)
	assert.NoError(t, child.Sync())

	root.Clear()
	assert.Empty(t, root.GetEntries())
}
