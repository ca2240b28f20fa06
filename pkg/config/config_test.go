package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestInitConfigCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", FileName)
	cfg, err := InitConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.FileExists(t, path)

	again := LoadConfig(path)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	writeFile(t, path, `
[search]
chunk_size = 250
max_results = 0

[index]
namespaces = ["notes", "wiki"]
`)
	cfg := LoadConfig(path)
	assert.Equal(t, 250, cfg.Search.ChunkSize)
	assert.Equal(t, 0, cfg.Search.MaxResults)
	assert.Equal(t, 500, cfg.Search.ProgressFlushIntervalMs)
	assert.Equal(t, []string{"notes", "wiki"}, cfg.Index.Namespaces)
	assert.Equal(t, "titles.db", cfg.Index.DBPath)

	opts := cfg.EngineOptions()
	assert.Equal(t, 250, opts.ChunkSize)
	assert.Equal(t, 500*time.Millisecond, opts.ProgressFlushInterval)
}

func TestLoadConfigPartialRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	// chunk_size has the wrong type, so the typed decode fails as a whole.
	writeFile(t, path, `
[search]
chunk_size = "big"
max_results = 12

[cli]
default_limit = 5
`)
	cfg := LoadConfig(path)
	assert.Equal(t, DefaultConfig().Search.ChunkSize, cfg.Search.ChunkSize)
	assert.Equal(t, 12, cfg.Search.MaxResults)
	assert.Equal(t, 5, cfg.CLI.DefaultLimit)
}

func TestLoadConfigUnparsable(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	writeFile(t, path, "[search\nchunk_size = ")
	assert.Equal(t, DefaultConfig(), LoadConfig(path))
}

func TestNormalize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Search.ChunkSize = 0
	cfg.Search.MaxResults = -3
	cfg.Index.DBPath = ""
	cfg.Normalize()
	assert.Equal(t, MinChunkSize, cfg.Search.ChunkSize)
	assert.Equal(t, 0, cfg.Search.MaxResults)
	assert.Equal(t, "titles.db", cfg.Index.DBPath)

	cfg.Search.ChunkSize = MaxChunkSize + 1
	cfg.Normalize()
	assert.Equal(t, MaxChunkSize, cfg.Search.ChunkSize)
}

func TestLoadConfigWithPriorityCustomPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	writeFile(t, path, "[server]\nmax_query_len = 32\n")
	cfg, used := LoadConfigWithPriority(path)
	assert.Equal(t, path, used)
	assert.Equal(t, 32, cfg.Server.MaxQueryLen)
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, SaveConfig(DefaultConfig(), path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, path, 20*time.Millisecond, func(c *Config) { got <- c }))

	// Unrelated files in the same directory are ignored.
	writeFile(t, filepath.Join(dir, "other.toml"), "x = 1\n")

	cfg := DefaultConfig()
	cfg.Search.ChunkSize = 77
	require.NoError(t, SaveConfig(cfg, path))

	select {
	case c := <-got:
		assert.Equal(t, 77, c.Search.ChunkSize)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}
}
