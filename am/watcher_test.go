package am

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, path string) *ConfigWatcher {
	t.Helper()
	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	cw.debouncePeriod = 20 * time.Millisecond
	cw.loader = func() (*Config, error) { return LoadFromFile(path) }
	t.Cleanup(func() { cw.Stop() })
	return cw
}

func TestConfigWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0644))

	cw := newTestWatcher(t, path)

	var mu sync.Mutex
	var levels []string
	cw.OnReload(func(cfg *Config) error {
		mu.Lock()
		defer mu.Unlock()
		levels = append(levels, cfg.Log.Level)
		return nil
	})
	cw.Start()

	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) > 0 && levels[len(levels)-1] == "debug"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConfigWatcherRejectsInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte("[storage]\nbackend = \"s3\"\n"), 0644))

	cw := newTestWatcher(t, path)
	called := false
	cw.OnReload(func(*Config) error { called = true; return nil })

	err := cw.reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keeping previous settings")
	assert.False(t, called)
}

func TestConfigWatcherOwnWriteIsConsumedOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	cw := newTestWatcher(t, path)
	cw.MarkOwnWrite()

	assert.True(t, cw.checkOwnWrite())
	assert.False(t, cw.checkOwnWrite())
}
