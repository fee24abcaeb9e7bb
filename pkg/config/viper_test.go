package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	yaml := "server:\n  port: 9000\n  read_timeout: 3s\ncache:\n  ttl: nonsense\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "journal.yaml"), []byte(yaml), 0o644))

	t.Setenv("JOURNAL_TEST_PORT", "9100")

	v, err := Load(dir, "journal")
	require.NoError(t, err)
	assert.Equal(t, 9000, v.GetInt("server.port"))

	BindEnvs(v, map[string]string{"server.port": "JOURNAL_TEST_PORT"})
	assert.Equal(t, 9100, v.GetInt("server.port"))

	assert.Equal(t, 3*time.Second, Duration(v, "server.read_timeout", time.Second))
	assert.Equal(t, 5*time.Minute, Duration(v, "cache.ttl", 5*time.Minute))
	assert.Equal(t, time.Minute, Duration(v, "missing.key", time.Minute))
}

func TestLoadWithoutFile(t *testing.T) {
	v, err := Load(t.TempDir(), "absent")
	require.NoError(t, err)
	assert.False(t, v.IsSet("server.port"))
}

func TestWatchReloadsChangedFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "journal.yaml")
	require.NoError(t, os.WriteFile(file, []byte("log:\n  level: info\n"), 0o644))

	v, err := Load(dir, "journal")
	require.NoError(t, err)
	require.Equal(t, "info", v.GetString("log.level"))

	levels := make(chan string, 8)
	Watch(v, func(fsnotify.Event) {
		levels <- v.GetString("log.level")
	})

	require.NoError(t, os.WriteFile(file, []byte("log:\n  level: debug\n"), 0o644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case level := <-levels:
			if level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("config change not picked up")
		}
	}
}

