package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deusversus/aidm/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  llm:
    openai:
      name: openai
agents:
  default:
    provider: openai
    model: gpt-5-mini
memory:
  postgres_dsn: "postgres://localhost/test"
  embedding_dimensions: 1536
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  llm:
    openai:
      name: openai
agents:
  default:
    provider: openai
    model: gpt-5-mini
  per_agent_models:
    key_animator:
      provider: openai
      model: gpt-5
memory:
  postgres_dsn: "postgres://localhost/test"
  embedding_dimensions: 1536
`

const watcherInvalidYAML = `
server:
  log_level: info
providers:
  llm: {}
memory:
  postgres_dsn: ""
`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherValidYAML)

	w, err := config.NewWatcher(path, func(old, new *config.Config, diff config.ConfigDiff) {})
	require.NoError(t, err)
	defer w.Stop()

	require.Equal(t, config.LogInfo, w.Current().Server.LogLevel)
}

func TestWatcher_InitialLoadFailsOnInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherInvalidYAML)

	_, err := config.NewWatcher(path, func(old, new *config.Config, diff config.ConfigDiff) {})
	require.Error(t, err)
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherValidYAML)

	var (
		mu       sync.Mutex
		changed  *config.Config
		lastDiff config.ConfigDiff
	)
	w, err := config.NewWatcher(path, func(old, new *config.Config, diff config.ConfigDiff) {
		mu.Lock()
		changed = new
		lastDiff = diff
		mu.Unlock()
	}, config.WithInterval(20*time.Millisecond))
	require.NoError(t, err)
	defer w.Stop()

	// Ensure a different mtime, then rewrite.
	time.Sleep(30 * time.Millisecond)
	writeConfig(t, path, watcherUpdatedYAML)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return changed != nil
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, config.LogDebug, changed.Server.LogLevel)
	require.Contains(t, changed.Agents.PerAgent, "key_animator")
	require.Equal(t, config.LogDebug, w.Current().Server.LogLevel)

	// The hot-path diff arrives pre-computed.
	require.True(t, lastDiff.LogLevelChanged)
	require.True(t, lastDiff.AgentsChanged)
	require.False(t, lastDiff.MediaChanged)
}

func TestWatcher_InvalidUpdateKeepsCurrent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherValidYAML)

	w, err := config.NewWatcher(path, func(old, new *config.Config, diff config.ConfigDiff) {
		t.Error("onChange must not fire for an invalid config")
	}, config.WithInterval(20*time.Millisecond))
	require.NoError(t, err)
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	writeConfig(t, path, watcherInvalidYAML)
	time.Sleep(200 * time.Millisecond)

	require.Equal(t, config.LogInfo, w.Current().Server.LogLevel)
}
