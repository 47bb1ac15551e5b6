package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path string, sections map[string]map[string]interface{}) {
	t.Helper()
	raw, err := json.MarshalIndent(map[string]interface{}{"version": "1.0", "sections": sections}, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0600))
}

func TestNewFileStore(t *testing.T) {
	t.Run("custom path", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")

		store, err := NewFileStore(configPath)
		require.NoError(t, err)
		assert.Equal(t, configPath, store.Path())
		assert.False(t, store.IsModified())
	})

	t.Run("default path", func(t *testing.T) {
		t.Setenv(ConfigPathEnv, "")
		store, err := NewFileStore("")
		require.NoError(t, err)

		homeDir, _ := os.UserHomeDir()
		assert.Equal(t, filepath.Join(homeDir, ".conduit", "config.json"), store.Path())
	})

	t.Run("env overrides default path", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "from-env.json")
		t.Setenv(ConfigPathEnv, configPath)

		store, err := NewFileStore("")
		require.NoError(t, err)
		assert.Equal(t, configPath, store.Path())
	})

	t.Run("loads existing file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		writeConfig(t, configPath, map[string]map[string]interface{}{"llm": {"model": "gpt-4o"}})

		store, err := NewFileStore(configPath)
		require.NoError(t, err)
		section, err := store.GetSection("llm")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", section["model"])
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte("{invalid json}"), 0600))

		_, err := NewFileStore(configPath)
		assert.Error(t, err)
	})
}

func TestFileStore_Load(t *testing.T) {
	t.Run("missing file is empty", func(t *testing.T) {
		store := &FileStore{path: filepath.Join(t.TempDir(), "nonexistent.json")}
		require.NoError(t, store.Load())

		all, err := store.GetAll()
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("file without sections", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"version":"1.0"}`), 0600))

		store := &FileStore{path: configPath}
		require.NoError(t, store.Load())
		require.NoError(t, store.SetSection("agent", map[string]interface{}{"max_steps": 3}))
	})
}

func TestFileStore_SaveRoundTrip(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "dir", "config.json")

	store, err := NewFileStore(configPath)
	require.NoError(t, err)
	require.NoError(t, store.SetSection("llm", map[string]interface{}{"model": "gpt-4o", "max_tokens": 512}))
	assert.True(t, store.IsModified())

	require.NoError(t, store.Save())
	assert.False(t, store.IsModified())
	_, err = os.Stat(configPath + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")

	reloaded, err := NewFileStore(configPath)
	require.NoError(t, err)
	section, err := reloaded.GetSection("llm")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", section["model"])
	assert.Equal(t, float64(512), section["max_tokens"], "numbers come back as JSON numbers")

	raw, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version": "1.0"`)
}

func TestFileStore_Copies(t *testing.T) {
	store := &FileStore{data: make(map[string]map[string]interface{})}

	in := map[string]interface{}{"key": "value"}
	require.NoError(t, store.SetSection("test", in))
	in["key"] = "modified"

	out, err := store.GetSection("test")
	require.NoError(t, err)
	assert.Equal(t, "value", out["key"])
	out["key"] = "modified"

	all, err := store.GetAll()
	require.NoError(t, err)
	assert.Equal(t, "value", all["test"]["key"])
	all["test"]["key"] = "modified"

	again, _ := store.GetSection("test")
	assert.Equal(t, "value", again["key"])

	missing, err := store.GetSection("missing")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestFileStore_SetAll(t *testing.T) {
	store := &FileStore{data: map[string]map[string]interface{}{"old": {"k": "v"}}}

	all := map[string]map[string]interface{}{
		"section1": {"key1": "value1"},
		"section2": {"key2": "value2"},
	}
	require.NoError(t, store.SetAll(all))
	all["section1"]["key1"] = "modified"

	got, err := store.GetAll()
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "value1", got["section1"]["key1"])
	assert.True(t, store.IsModified())
}
